package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	imgInternal "github.com/AlexStarov/labelprint-GoLang-lib/image"
)

// ErrInvalidDimensions is returned when a bitmap cannot be framed.
var ErrInvalidDimensions = imgInternal.ErrInvalidDimensions

// Connection errors
var (
	ErrConnectionRejected = errors.New("connection rejected")
	ErrServiceUnavailable = errors.New("printer service unavailable")
	ErrTransport          = errors.New("transport error")
)

// Session misuse
var (
	ErrNotConnected = errors.New("not connected")
	ErrSessionBusy  = errors.New("session busy")
)

// Job errors
var (
	ErrWriteRejected = errors.New("write rejected")
	ErrLinkDropped   = errors.New("link dropped")
	ErrTimeout       = errors.New("write timed out")
	ErrCancelled     = errors.New("print cancelled")
)

// JobError describes where a print job stopped. Kind is one of the job
// errors above, Err the cause reported by the link.
type JobError struct {
	Stage string
	Chunk int // payload chunk index, -1 outside the payload
	Kind  error
	Err   error
}

func (e *JobError) Error() string {
	where := e.Stage
	if e.Chunk >= 0 {
		where = fmt.Sprintf("%s chunk %d", e.Stage, e.Chunk)
	}
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("print %s: %v", where, e.Kind)
	}
	return fmt.Sprintf("print %s: %v: %v", where, e.Kind, e.Err)
}

func (e *JobError) Unwrap() []error { return []error{e.Kind, e.Err} }

// classifyWrite maps a link write failure onto a job error kind.
func classifyWrite(ctx context.Context, err error) error {
	for _, kind := range []error{ErrCancelled, ErrWriteRejected, ErrLinkDropped, ErrTimeout} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return ErrCancelled
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET):
		return ErrLinkDropped
	}
	return ErrWriteRejected
}

// classifyDial makes sure a connect failure carries one of the connection
// error kinds.
func classifyDial(err error) error {
	for _, kind := range []error{ErrConnectionRejected, ErrServiceUnavailable, ErrTransport} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
