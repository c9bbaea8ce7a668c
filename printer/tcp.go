package printer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"

	logInternal "github.com/AlexStarov/labelprint-GoLang-lib/log"
)

// PDLService is the mDNS service type of raw (port 9100) printers.
const PDLService = "_pdl-datastream._tcp"

// TCPDialer connects to a raw-socket printer. When Addr is empty the
// printer is looked up over mDNS: the instance named Instance, or the first
// one that answers.
type TCPDialer struct {
	Addr     string
	Instance string
	Service  string // default PDLService

	Timeout time.Duration // dial, lookup and per-write timeout, default 5s
}

func (d TCPDialer) timeout() time.Duration {
	if d.Timeout <= 0 {
		return 5 * time.Second
	}
	return d.Timeout
}

func (d TCPDialer) Dial(ctx context.Context) (Link, error) {
	addr := d.Addr
	if addr == "" {
		var err error
		if addr, err = d.resolve(ctx); err != nil {
			return nil, err
		}
	}

	dialer := net.Dialer{Timeout: d.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("dial %s: %w: %w", addr, ErrConnectionRejected, err)
		}
		return nil, fmt.Errorf("dial %s: %w: %w", addr, ErrTransport, err)
	}
	logInternal.LogMessagef(logInternal.INFO, "connected to %s", addr)

	return &tcpLink{conn: conn, timeout: d.timeout()}, nil
}

func (d TCPDialer) resolve(ctx context.Context) (string, error) {
	service := d.Service
	if service == "" {
		service = PDLService
	}

	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return "", fmt.Errorf("mdns resolver: %w: %w", ErrTransport, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if d.Instance != "" {
		err = resolver.Lookup(ctx, d.Instance, service, "local.", entries)
	} else {
		err = resolver.Browse(ctx, service, "local.", entries)
	}
	if err != nil {
		return "", fmt.Errorf("mdns query %s: %w: %w", service, ErrTransport, err)
	}

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("no %s printer %q: %w", service, d.Instance, ErrConnectionRejected)
			}
			if addr := entryAddr(e); addr != "" {
				logInternal.LogMessagef(logInternal.DEBUG, "mdns: %s at %s", e.Instance, addr)
				return addr, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("no %s printer %q: %w", service, d.Instance, ErrConnectionRejected)
		}
	}
}

func entryAddr(e *zeroconf.ServiceEntry) string {
	port := strconv.Itoa(e.Port)
	switch {
	case len(e.AddrIPv4) > 0:
		return net.JoinHostPort(e.AddrIPv4[0].String(), port)
	case len(e.AddrIPv6) > 0:
		return net.JoinHostPort(e.AddrIPv6[0].String(), port)
	}
	return ""
}

// tcpLink has no application level acknowledgement; a write accepted by
// the kernel within the deadline counts as delivered.
type tcpLink struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

func (l *tcpLink) Write(ctx context.Context, p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(l.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.conn.SetWriteDeadline(deadline)
	defer l.conn.SetWriteDeadline(time.Time{})

	return writeAll(l.conn, p)
}

func (l *tcpLink) MaxPayload() int { return 0 }

func (l *tcpLink) Close() error {
	return l.conn.Close()
}
