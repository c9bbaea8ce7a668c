package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	imgInternal "github.com/AlexStarov/labelprint-GoLang-lib/image"
	logInternal "github.com/AlexStarov/labelprint-GoLang-lib/log"
)

// DefaultChunkSize is used when the link does not report its maximum
// payload per write.
const DefaultChunkSize = 128

// Link is an open channel to a printer.
type Link interface {
	// Write sends p and returns once the transport acknowledged it.
	Write(ctx context.Context, p []byte) error

	// MaxPayload is the largest p accepted by Write, or 0 if unknown.
	MaxPayload() int

	Close() error
}

// JobLink is a Link that groups the writes of one print job, such as a
// spooler document. The session calls StartJob before the first write of
// every job and EndJob after the last one, also when the job failed.
type JobLink interface {
	Link
	StartJob(ctx context.Context) error
	EndJob() error
}

// Dialer finds a printer and opens the channel used for printing.
type Dialer interface {
	Dial(ctx context.Context) (Link, error)
}

// State of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Printing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Printing:
		return "printing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a Session.
type Options struct {
	// ChunkSize caps the payload per write. Zero uses the link's maximum,
	// or DefaultChunkSize when the link does not report one.
	ChunkSize int

	// Preamble is sent between the reset and the raster header.
	Preamble Preamble

	// OnProgress is called after every acknowledged write with the bytes
	// sent so far and the job total.
	OnProgress func(sent, total int)

	// OnStateChange is called after every state transition, outside the
	// session lock.
	OnStateChange func(State)
}

// Session owns the link to one printer. Connect once, then Print any
// number of bitmaps, one at a time.
type Session struct {
	dialer Dialer
	opts   Options

	mu        sync.Mutex
	state     State
	link      Link
	chunkSize int

	// gen changes on every Connect attempt and Disconnect; a dial only
	// settles the session if gen is unchanged when it returns.
	gen uint64
}

// NewSession returns a disconnected session that connects through d.
func NewSession(d Dialer, opts Options) *Session {
	return &Session{dialer: d, opts: opts}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChunkSize returns the payload size negotiated by the last Connect.
func (s *Session) ChunkSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkSize
}

func (s *Session) notify(st State) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st)
	}
}

// Connect opens the link. It is a no-op on a connected session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Connected, Printing:
		s.mu.Unlock()
		return nil
	case Connecting:
		s.mu.Unlock()
		return fmt.Errorf("connect already in progress: %w", ErrSessionBusy)
	}
	s.state = Connecting
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	s.notify(Connecting)

	link, err := s.dialer.Dial(ctx)

	s.mu.Lock()
	if s.gen != gen {
		// Disconnect was called while dialing, maybe followed by a newer
		// Connect that now owns the session.
		s.mu.Unlock()
		if err != nil {
			return classifyDial(err)
		}
		link.Close()
		return fmt.Errorf("connect: %w", ErrCancelled)
	}
	if err != nil {
		s.state = Disconnected
		s.mu.Unlock()
		s.notify(Disconnected)
		err = classifyDial(err)
		logInternal.LogMessagef(logInternal.ERROR, "connect failed: %v", err)
		return err
	}

	s.link = link
	s.chunkSize = negotiateChunkSize(link.MaxPayload(), s.opts.ChunkSize)
	s.state = Connected
	chunkSize := s.chunkSize
	s.mu.Unlock()
	s.notify(Connected)

	logInternal.LogMessagef(logInternal.INFO, "connected, chunk size %d", chunkSize)
	return nil
}

func negotiateChunkSize(linkMax, limit int) int {
	size := linkMax
	if size <= 0 {
		size = DefaultChunkSize
	}
	if limit > 0 && limit < size {
		size = limit
	}
	return size
}

// Disconnect closes the link. It may be called in any state and always
// leaves the session disconnected. A print in progress fails.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	link := s.link
	prev := s.state
	s.link = nil
	s.state = Disconnected
	s.gen++
	s.mu.Unlock()

	if prev != Disconnected {
		s.notify(Disconnected)
	}
	if link == nil {
		return nil
	}

	logInternal.LogMessage(logInternal.INFO, "disconnecting")
	if err := link.Close(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// PrintBitmap prints bm, dropping the job summary.
func (s *Session) PrintBitmap(ctx context.Context, bm *imgInternal.PackedBitmap) error {
	_, err := s.Print(ctx, bm)
	return err
}

// Print frames bm and streams it to the printer: reset, optional
// preamble, raster header, payload chunks, feed. Every write waits for the
// link's acknowledgement before the next one starts. The first failure
// aborts the job; nothing is retried.
func (s *Session) Print(ctx context.Context, bm *imgInternal.PackedBitmap) (JobInfo, error) {
	s.mu.Lock()
	switch s.state {
	case Connected:
	case Printing:
		s.mu.Unlock()
		return JobInfo{}, fmt.Errorf("print: %w", ErrSessionBusy)
	default:
		s.mu.Unlock()
		return JobInfo{}, fmt.Errorf("print: %w", ErrNotConnected)
	}

	job, err := NewJob(bm, s.chunkSize, s.opts.Preamble)
	if err != nil {
		s.mu.Unlock()
		return JobInfo{}, fmt.Errorf("print: %w", err)
	}
	link := s.link
	s.state = Printing
	s.mu.Unlock()
	s.notify(Printing)

	info := job.Info()
	logInternal.LogMessagef(logInternal.INFO, "printing %dx%d, %d bytes in %d chunks, header %s",
		info.Width, info.Height, info.PayloadBytes, info.Chunks, info.Header)

	err = s.send(ctx, link, job)

	// A Disconnect (and maybe a new Connect) during the job already moved
	// the session on; only settle the state while it still owns link.
	s.mu.Lock()
	owned := s.link == link
	next := Connected
	if owned {
		if errors.Is(err, ErrLinkDropped) {
			s.link = nil
			next = Disconnected
		}
		s.state = next
	}
	s.mu.Unlock()

	if owned {
		if next == Disconnected {
			link.Close()
		}
		s.notify(next)
	}

	if err != nil {
		logInternal.LogMessagef(logInternal.ERROR, "%v", err)
		return info, err
	}
	logInternal.LogMessage(logInternal.INFO, "print complete")
	return info, nil
}

// send writes the job, inside StartJob/EndJob when link is a JobLink.
func (s *Session) send(ctx context.Context, link Link, job *Job) error {
	jl, grouped := link.(JobLink)
	if !grouped {
		return s.writeJob(ctx, link, job)
	}

	if err := ctx.Err(); err != nil {
		return &JobError{Stage: "start", Chunk: -1, Kind: ErrCancelled, Err: err}
	}
	if err := jl.StartJob(ctx); err != nil {
		return &JobError{Stage: "start", Chunk: -1, Kind: classifyWrite(ctx, err), Err: err}
	}
	err := s.writeJob(ctx, link, job)
	if endErr := jl.EndJob(); err == nil && endErr != nil {
		err = &JobError{Stage: "end", Chunk: -1, Kind: classifyWrite(ctx, endErr), Err: endErr}
	}
	return err
}

// writeJob writes the job in order. Cancellation is checked before every
// write so nothing is sent once ctx is done.
func (s *Session) writeJob(ctx context.Context, link Link, job *Job) error {
	total := job.Total()
	sent := 0

	write := func(stage string, chunk int, p []byte) error {
		if err := ctx.Err(); err != nil {
			return &JobError{Stage: stage, Chunk: chunk, Kind: ErrCancelled, Err: err}
		}
		if err := link.Write(ctx, p); err != nil {
			return &JobError{Stage: stage, Chunk: chunk, Kind: classifyWrite(ctx, err), Err: err}
		}
		sent += len(p)
		if s.opts.OnProgress != nil {
			s.opts.OnProgress(sent, total)
		}
		return nil
	}

	if err := write("init", -1, job.Init); err != nil {
		return err
	}
	if len(job.Preamble) > 0 {
		if err := write("preamble", -1, job.Preamble); err != nil {
			return err
		}
	}
	if err := write("header", -1, job.Header); err != nil {
		return err
	}
	for i, chunk := range job.Chunks() {
		if err := write("payload", i, chunk); err != nil {
			return err
		}
	}
	return write("trailer", -1, job.Trailer)
}
