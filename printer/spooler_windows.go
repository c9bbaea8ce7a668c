//go:build windows

package printer

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// SpoolerDialer sends every print job as its own RAW document through the
// Windows print spooler, for printers installed with a vendor driver. A
// finished job has been handed to the spooler, which may still be feeding
// it to the device.
type SpoolerDialer struct {
	PrinterName string
	DocName     string // default "Label"
}

func (d SpoolerDialer) Dial(ctx context.Context) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	var hPrinter windows.Handle
	pname, err := windows.UTF16PtrFromString(d.PrinterName)
	if err != nil {
		return nil, fmt.Errorf("printer name %q: %w: %w", d.PrinterName, ErrConnectionRejected, err)
	}
	r1, _, err := procOpenPrinter.Call(
		uintptr(unsafe.Pointer(pname)),
		uintptr(unsafe.Pointer(&hPrinter)),
		0,
	)
	if r1 == 0 {
		return nil, fmt.Errorf("open printer %q: %w: %w", d.PrinterName, ErrConnectionRejected, err)
	}

	name := d.DocName
	if name == "" {
		name = "Label"
	}
	return &spoolerLink{hPrinter: hPrinter, docName: name}, nil
}

// spoolerLink treats a completed WritePrinter call as the acknowledgement.
type spoolerLink struct {
	mu       sync.Mutex
	hPrinter windows.Handle
	docName  string
	inDoc    bool
	closed   bool
}

// StartJob opens a RAW document with a single page.
func (s *spoolerLink) StartJob(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrLinkDropped
	}
	if s.inDoc {
		s.endDoc()
	}

	docName, _ := windows.UTF16PtrFromString(s.docName)
	dataType, _ := windows.UTF16PtrFromString("RAW")
	di := docInfo1{
		pDocName:  docName,
		pDatatype: dataType,
	}
	r1, _, err := procStartDocPrinter.Call(
		uintptr(s.hPrinter),
		1,
		uintptr(unsafe.Pointer(&di)),
	)
	if r1 == 0 {
		return fmt.Errorf("StartDocPrinter: %w: %w", ErrWriteRejected, err)
	}
	procStartPagePrinter.Call(uintptr(s.hPrinter))
	s.inDoc = true
	return nil
}

// EndJob closes the document so the spooler releases it to the printer.
func (s *spoolerLink) EndJob() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inDoc {
		return nil
	}
	return s.endDoc()
}

func (s *spoolerLink) endDoc() error {
	s.inDoc = false
	procEndPagePrinter.Call(uintptr(s.hPrinter))
	if r1, _, err := procEndDocPrinter.Call(uintptr(s.hPrinter)); r1 == 0 {
		return fmt.Errorf("EndDocPrinter: %w: %w", ErrWriteRejected, err)
	}
	return nil
}

func (s *spoolerLink) Write(ctx context.Context, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrLinkDropped
	}
	if !s.inDoc {
		return fmt.Errorf("write outside a spooler document: %w", ErrWriteRejected)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}

	var written uint32
	r1, _, err := procWritePrinter.Call(
		uintptr(s.hPrinter),
		uintptr(unsafe.Pointer(&p[0])),
		uintptr(len(p)),
		uintptr(unsafe.Pointer(&written)),
	)
	if r1 == 0 {
		return fmt.Errorf("WritePrinter: %w: %w", ErrWriteRejected, err)
	}
	if int(written) != len(p) {
		return fmt.Errorf("WritePrinter wrote %d of %d bytes: %w", written, len(p), ErrWriteRejected)
	}
	return nil
}

func (s *spoolerLink) MaxPayload() int { return 0 }

func (s *spoolerLink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.inDoc {
		s.endDoc()
	}
	procClosePrinter.Call(uintptr(s.hPrinter))
	return nil
}

var _ JobLink = (*spoolerLink)(nil)

// --- WinAPI binding ---
var (
	modwinspool          = windows.NewLazySystemDLL("winspool.drv")
	procOpenPrinter      = modwinspool.NewProc("OpenPrinterW")
	procClosePrinter     = modwinspool.NewProc("ClosePrinter")
	procStartDocPrinter  = modwinspool.NewProc("StartDocPrinterW")
	procEndDocPrinter    = modwinspool.NewProc("EndDocPrinter")
	procStartPagePrinter = modwinspool.NewProc("StartPagePrinter")
	procEndPagePrinter   = modwinspool.NewProc("EndPagePrinter")
	procWritePrinter     = modwinspool.NewProc("WritePrinter")
)

type docInfo1 struct {
	pDocName    *uint16
	pOutputFile *uint16
	pDatatype   *uint16
}
