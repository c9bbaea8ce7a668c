package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"

	logInternal "github.com/AlexStarov/labelprint-GoLang-lib/log"
)

// USBDialer claims a USB printer by vendor and product id and writes to
// its bulk OUT endpoint.
type USBDialer struct {
	VendorID, ProductID gousb.ID

	Config    int // default 1
	Interface int
	Endpoint  int // default 0x01
}

type usbLink struct {
	mu   sync.Mutex
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	out  *gousb.OutEndpoint
}

func (d USBDialer) Dial(ctx context.Context) (Link, error) {
	cfgNum := d.Config
	if cfgNum == 0 {
		cfgNum = 1
	}
	epNum := d.Endpoint
	if epNum == 0 {
		epNum = 0x01
	}

	l := &usbLink{ctx: gousb.NewContext()}

	dev, err := l.ctx.OpenDeviceWithVIDPID(d.VendorID, d.ProductID)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("open usb %s:%s: %w: %w", d.VendorID, d.ProductID, ErrTransport, err)
	}
	if dev == nil {
		l.Close()
		return nil, fmt.Errorf("usb device %s:%s not found: %w", d.VendorID, d.ProductID, ErrConnectionRejected)
	}
	l.dev = dev
	dev.SetAutoDetach(true)

	if l.cfg, err = dev.Config(cfgNum); err != nil {
		l.Close()
		return nil, fmt.Errorf("usb config %d: %w: %w", cfgNum, ErrServiceUnavailable, err)
	}
	if l.intf, err = l.cfg.Interface(d.Interface, 0); err != nil {
		l.Close()
		return nil, fmt.Errorf("usb interface %d: %w: %w", d.Interface, ErrServiceUnavailable, err)
	}
	if l.out, err = l.intf.OutEndpoint(epNum); err != nil {
		l.Close()
		return nil, fmt.Errorf("usb endpoint %#x: %w: %w", epNum, ErrServiceUnavailable, err)
	}

	logInternal.LogMessagef(logInternal.INFO, "usb printer %s:%s claimed, max packet %d",
		d.VendorID, d.ProductID, l.out.Desc.MaxPacketSize)
	return l, nil
}

func (l *usbLink) Write(ctx context.Context, p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return ErrLinkDropped
	}

	sent := 0
	for sent < len(p) {
		n, err := l.out.WriteContext(ctx, p[sent:])
		if err != nil {
			return classifyUSBWrite(err)
		}
		sent += n
	}
	return nil
}

func classifyUSBWrite(err error) error {
	switch {
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.TransferNoDevice):
		return fmt.Errorf("%w: %w", ErrLinkDropped, err)
	case errors.Is(err, gousb.ErrorTimeout), errors.Is(err, gousb.TransferTimedOut):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, gousb.TransferCancelled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return fmt.Errorf("%w: %w", ErrWriteRejected, err)
}

func (l *usbLink) MaxPayload() int {
	if l.out == nil {
		return 0
	}
	return l.out.Desc.MaxPacketSize
}

func (l *usbLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.out = nil
	if l.intf != nil {
		l.intf.Close()
		l.intf = nil
	}
	var err error
	if l.cfg != nil {
		err = l.cfg.Close()
		l.cfg = nil
	}
	if l.dev != nil {
		if cerr := l.dev.Close(); err == nil {
			err = cerr
		}
		l.dev = nil
	}
	if l.ctx != nil {
		if cerr := l.ctx.Close(); err == nil {
			err = cerr
		}
		l.ctx = nil
	}
	return err
}
