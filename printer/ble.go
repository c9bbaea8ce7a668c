package printer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	logInternal "github.com/AlexStarov/labelprint-GoLang-lib/log"
)

// GATT service and characteristic of Phomemo style label printers.
var (
	PrinterServiceUUID = bluetooth.New16BitUUID(0xff00)
	PrinterWriteUUID   = bluetooth.New16BitUUID(0xff02)
)

// attHeader is the ATT overhead subtracted from the MTU.
const attHeader = 3

// BLEDialer scans for a printer and connects to its write characteristic.
type BLEDialer struct {
	// Address selects the device; when empty the first device whose
	// advertised name starts with Name is used.
	Address string
	Name    string

	ScanTimeout time.Duration // default 10s

	Adapter *bluetooth.Adapter // default bluetooth.DefaultAdapter
}

func (d BLEDialer) Dial(ctx context.Context) (Link, error) {
	adapter := d.Adapter
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth: %w: %w", ErrTransport, err)
	}

	result, err := d.scan(ctx, adapter)
	if err != nil {
		return nil, err
	}
	logInternal.LogMessagef(logInternal.INFO, "found %q at %s", result.LocalName(), result.Address.String())

	dev, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w: %w", result.Address.String(), ErrTransport, err)
	}

	services, err := dev.DiscoverServices([]bluetooth.UUID{PrinterServiceUUID})
	if err != nil || len(services) == 0 {
		dev.Disconnect()
		return nil, fmt.Errorf("service %s: %w: %v", PrinterServiceUUID.String(), ErrServiceUnavailable, err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{PrinterWriteUUID})
	if err != nil || len(chars) == 0 {
		dev.Disconnect()
		return nil, fmt.Errorf("characteristic %s: %w: %v", PrinterWriteUUID.String(), ErrServiceUnavailable, err)
	}
	char := chars[0]

	l := &bleLink{
		write:      char.Write,
		disconnect: dev.Disconnect,
	}
	if mtu, err := char.GetMTU(); err == nil && int(mtu) > attHeader {
		l.maxPayload = int(mtu) - attHeader
	}
	return l, nil
}

// scan blocks until a matching advertisement arrives, the timeout passes
// or ctx is done.
func (d BLEDialer) scan(ctx context.Context, adapter *bluetooth.Adapter) (bluetooth.ScanResult, error) {
	timeout := d.ScanTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		found bluetooth.ScanResult
		ok    bool
	)
	done := make(chan error, 1)
	go func() {
		done <- adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if ok || !d.matches(r) {
				return
			}
			found, ok = r, true
			a.StopScan()
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return found, fmt.Errorf("scan: %w: %w", ErrTransport, err)
		}
	case <-ctx.Done():
		stopScan(done, adapter.StopScan, 100*time.Millisecond)
	}

	if !ok {
		return found, fmt.Errorf("no printer matching %q: %w", d.want(), ErrConnectionRejected)
	}
	return found, nil
}

// stopScan stops a scan and waits for Scan to return. A stop issued
// before the adapter started scanning is lost, so it is repeated every
// retry until done fires.
func stopScan(done <-chan error, stop func() error, retry time.Duration) error {
	stop()
	tick := time.NewTicker(retry)
	defer tick.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-tick.C:
			stop()
		}
	}
}

func (d BLEDialer) matches(r bluetooth.ScanResult) bool {
	if d.Address != "" {
		return strings.EqualFold(r.Address.String(), d.Address)
	}
	name := r.LocalName()
	if d.Name != "" {
		return strings.HasPrefix(name, d.Name)
	}
	return r.HasServiceUUID(PrinterServiceUUID)
}

func (d BLEDialer) want() string {
	if d.Address != "" {
		return d.Address
	}
	return d.Name
}

// bleLink writes with response, so a returned write is acknowledged by
// the printer.
type bleLink struct {
	mu         sync.Mutex
	write      func([]byte) (int, error)
	disconnect func() error
	maxPayload int
	closed     bool
}

func (l *bleLink) Write(ctx context.Context, p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkDropped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := l.write(p); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not connected") {
			return fmt.Errorf("%w: %w", ErrLinkDropped, err)
		}
		return fmt.Errorf("%w: %w", ErrWriteRejected, err)
	}
	return nil
}

func (l *bleLink) MaxPayload() int { return l.maxPayload }

func (l *bleLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.disconnect()
}
