package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// -------------------- stream --------------------

// streamLink is a Link over a blocking writer; a returned Write counts as
// the acknowledgement.
type streamLink struct {
	w          io.WriteCloser
	maxPayload int

	mu     sync.Mutex
	closed bool
}

// NewStreamLink wraps w as a Link. maxPayload may be 0.
func NewStreamLink(w io.WriteCloser, maxPayload int) Link {
	return &streamLink{w: w, maxPayload: maxPayload}
}

func (l *streamLink) Write(ctx context.Context, p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkDropped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeAll(l.w, p)
}

func (l *streamLink) MaxPayload() int { return l.maxPayload }

func (l *streamLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.w.Close()
}

// -------------------- device file --------------------

// FileDialer opens a character device such as /dev/rfcomm0 (Bluetooth
// serial) or /dev/usb/lp0 (USB printer class) for writing.
type FileDialer struct {
	Path string

	// MaxPayload bounds the size of a single write, 0 for the default.
	MaxPayload int
}

func (d FileDialer) Dial(ctx context.Context) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	f, err := os.OpenFile(d.Path, os.O_WRONLY, 0)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("open %s: %w: %w", d.Path, ErrConnectionRejected, err)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("open %s: %w: %w", d.Path, ErrServiceUnavailable, err)
		}
		return nil, fmt.Errorf("open %s: %w: %w", d.Path, ErrTransport, err)
	}
	return NewStreamLink(f, d.MaxPayload), nil
}

// -------------------- helpers --------------------

func writeAll(w io.Writer, b []byte) error {
	sent := 0
	for sent < len(b) {
		n, err := w.Write(b[sent:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		sent += n
	}
	return nil
}
