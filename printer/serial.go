package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.bug.st/serial"

	logInternal "github.com/AlexStarov/labelprint-GoLang-lib/log"
)

// SerialDialer opens a serial port: a Bluetooth SPP port (/dev/rfcomm0,
// /dev/cu.*, COMx) or a USB CDC adapter.
type SerialDialer struct {
	Port     string
	BaudRate int // default 115200
}

func (d SerialDialer) Dial(ctx context.Context) (Link, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w: %w", ErrTransport, err)
	}
	logInternal.LogMessagef(logInternal.DEBUG, "serial ports: %v", ports)

	if !contains(ports, d.Port) {
		return nil, fmt.Errorf("serial port %s not found: %w", d.Port, ErrConnectionRejected)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	baud := d.BaudRate
	if baud == 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(d.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.Port, classifySerialOpen(err))
	}
	logInternal.LogMessagef(logInternal.INFO, "serial port %s open at %d baud", d.Port, baud)

	return &serialLink{port: port}, nil
}

func classifySerialOpen(err error) error {
	var perr *serial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case serial.PortNotFound:
			return fmt.Errorf("%w: %w", ErrConnectionRejected, err)
		case serial.InvalidSerialPort, serial.PermissionDenied:
			return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// serialLink treats a drained output buffer as the acknowledgement.
type serialLink struct {
	mu   sync.Mutex
	port serial.Port
}

func (l *serialLink) Write(ctx context.Context, p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeAll(l.port, p); err != nil {
		return classifySerialWrite(err)
	}
	if err := l.port.Drain(); err != nil {
		return classifySerialWrite(err)
	}
	return nil
}

func classifySerialWrite(err error) error {
	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
		return fmt.Errorf("%w: %w", ErrLinkDropped, err)
	}
	return err
}

func (l *serialLink) MaxPayload() int { return 0 }

func (l *serialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port.Close()
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
