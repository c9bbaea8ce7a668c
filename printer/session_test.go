package printer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	imgInternal "github.com/AlexStarov/labelprint-GoLang-lib/image"
)

// fakeLink records every write. Write number failAt (1-based) fails with
// failErr; when hold is set, write number holdAt blocks until hold is
// closed.
type fakeLink struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool

	maxPayload int

	failAt  int
	failErr error

	holdAt  int
	hold    chan struct{}
	holding chan struct{}
}

func (l *fakeLink) Write(ctx context.Context, p []byte) error {
	l.mu.Lock()
	l.writes = append(l.writes, append([]byte(nil), p...))
	n := len(l.writes)
	closed := l.closed
	l.mu.Unlock()

	if closed {
		return ErrLinkDropped
	}
	if l.hold != nil && n == l.holdAt {
		close(l.holding)
		<-l.hold
	}
	if n == l.failAt {
		return l.failErr
	}
	return nil
}

func (l *fakeLink) MaxPayload() int { return l.maxPayload }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) recorded() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.writes...)
}

type fakeDialer struct {
	mu    sync.Mutex
	link  *fakeLink
	err   error
	dials int

	gate chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context) (Link, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.link, nil
}

func testBitmap(t *testing.T, w, h int) *imgInternal.PackedBitmap {
	t.Helper()
	bm := imgInternal.NewPackedBitmap(w, h)
	for i := range bm.Pix {
		bm.Pix[i] = byte(i*7 + 1)
	}
	return bm
}

func connected(t *testing.T, link *fakeLink, opts Options) *Session {
	t.Helper()
	s := NewSession(&fakeDialer{link: link}, opts)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

func TestPrintFraming(t *testing.T) {
	link := &fakeLink{}
	s := connected(t, link, Options{})
	bm := testBitmap(t, 40, 30)

	info, err := s.Print(context.Background(), bm)
	if err != nil {
		t.Fatalf("Print: %v", err)
	}

	writes := link.recorded()
	if len(writes) != 5 {
		t.Fatalf("%d writes, want 5 (init, header, 2 chunks, trailer)", len(writes))
	}
	if !bytes.Equal(writes[0], []byte{0x1b, 0x40}) {
		t.Errorf("init = % x", writes[0])
	}
	if want := []byte{0x1d, 0x76, 0x30, 0x00, 0x05, 0x00, 0x1e, 0x00}; !bytes.Equal(writes[1], want) {
		t.Errorf("header = % x, want % x", writes[1], want)
	}
	if len(writes[2]) != 128 || len(writes[3]) != 22 {
		t.Errorf("chunk sizes %d, %d, want 128, 22", len(writes[2]), len(writes[3]))
	}
	if !bytes.Equal(writes[4], []byte{0x1b, 0x64, 0x00}) {
		t.Errorf("trailer = % x", writes[4])
	}
	if payload := bytes.Join(writes[2:4], nil); !bytes.Equal(payload, bm.Pix) {
		t.Error("chunks do not reconstruct the bitmap")
	}

	if info.BytesPerRow != 5 || info.Height != 30 || info.Chunks != 2 || info.TotalBytes != 2+8+150+3 {
		t.Errorf("info = %+v", info)
	}
	if s.State() != Connected {
		t.Errorf("state = %v, want connected", s.State())
	}
}

func TestPrintChunkReconstruction(t *testing.T) {
	sizes := []struct{ w, h, chunk int }{
		{8, 1, 128},
		{96, 320, 128},
		{384, 50, 182},
		{16, 40, 16},
		{24, 7, 5},
	}
	for _, sz := range sizes {
		link := &fakeLink{maxPayload: sz.chunk}
		s := connected(t, link, Options{})
		bm := testBitmap(t, sz.w, sz.h)
		if _, err := s.Print(context.Background(), bm); err != nil {
			t.Fatalf("%+v: %v", sz, err)
		}

		writes := link.recorded()
		chunks := writes[2 : len(writes)-1]
		for i, c := range chunks {
			if len(c) > sz.chunk || len(c) == 0 {
				t.Errorf("%+v: chunk %d has %d bytes", sz, i, len(c))
			}
			if i < len(chunks)-1 && len(c) != sz.chunk {
				t.Errorf("%+v: inner chunk %d short (%d bytes)", sz, i, len(c))
			}
		}
		if !bytes.Equal(bytes.Join(chunks, nil), bm.Pix) {
			t.Errorf("%+v: chunks do not reconstruct the bitmap", sz)
		}
	}
}

func TestPrintProgressMonotonic(t *testing.T) {
	var seen []int
	total := 0
	link := &fakeLink{}
	s := connected(t, link, Options{
		OnProgress: func(sent, tot int) {
			seen = append(seen, sent)
			total = tot
		},
	})

	if _, err := s.Print(context.Background(), testBitmap(t, 96, 64)); err != nil {
		t.Fatal(err)
	}

	if len(seen) != len(link.recorded()) {
		t.Errorf("%d progress reports for %d writes", len(seen), len(link.recorded()))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress went backwards: %v", seen)
		}
	}
	if seen[len(seen)-1] != total {
		t.Errorf("final progress %d/%d", seen[len(seen)-1], total)
	}
	if seen[len(seen)-2] == total {
		t.Error("progress complete before the trailer")
	}
}

func TestPrintNotConnected(t *testing.T) {
	link := &fakeLink{}
	s := NewSession(&fakeDialer{link: link}, Options{})

	if _, err := s.Print(context.Background(), testBitmap(t, 8, 8)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Print(context.Background(), testBitmap(t, 8, 8)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("after disconnect err = %v, want ErrNotConnected", err)
	}
	if n := len(link.recorded()); n != 0 {
		t.Errorf("%d writes while disconnected", n)
	}
}

func TestPrintAbortsOnChunkFailure(t *testing.T) {
	cause := errors.New("gatt write failed")
	// init, header, chunk 0, chunk 1: the fourth write is the second chunk
	link := &fakeLink{failAt: 4, failErr: cause}
	s := connected(t, link, Options{ChunkSize: 16})

	_, err := s.Print(context.Background(), testBitmap(t, 16, 40)) // 80 bytes, 5 chunks
	if !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("err = %v, want ErrWriteRejected", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("err = %v does not wrap the link error", err)
	}
	var jerr *JobError
	if !errors.As(err, &jerr) || jerr.Stage != "payload" || jerr.Chunk != 1 {
		t.Errorf("job error = %+v, want payload chunk 1", jerr)
	}

	writes := link.recorded()
	if len(writes) != 4 {
		t.Errorf("%d writes, want 4; chunks 3-5 and the trailer must not be sent", len(writes))
	}
	if s.State() != Connected {
		t.Errorf("state = %v, want connected", s.State())
	}

	// a new print starts from chunk zero
	link.failAt = 0
	if _, err := s.Print(context.Background(), testBitmap(t, 16, 40)); err != nil {
		t.Fatal(err)
	}
	writes = link.recorded()[4:]
	if len(writes) != 8 || !bytes.Equal(writes[0], cmdInit) {
		t.Errorf("resubmitted job wrote %d times, first % x", len(writes), writes[0])
	}
}

func TestPrintLinkDropped(t *testing.T) {
	link := &fakeLink{failAt: 2, failErr: io.EOF}
	var states []State
	s := connected(t, link, Options{OnStateChange: func(st State) { states = append(states, st) }})

	_, err := s.Print(context.Background(), testBitmap(t, 8, 8))
	if !errors.Is(err, ErrLinkDropped) {
		t.Fatalf("err = %v, want ErrLinkDropped", err)
	}
	if s.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
	if !link.closed {
		t.Error("dropped link not closed")
	}
	if want := []State{Connecting, Connected, Printing, Disconnected}; !equalStates(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPrintErrorKinds(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		want  error
	}{
		{"rejected", errors.New("att error 0x03"), ErrWriteRejected},
		{"timeout", ErrTimeout, ErrTimeout},
		{"link deadline", context.DeadlineExceeded, ErrTimeout},
		{"closed pipe", io.ErrClosedPipe, ErrLinkDropped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := &fakeLink{failAt: 3, failErr: tt.cause}
			s := connected(t, link, Options{})
			if _, err := s.Print(context.Background(), testBitmap(t, 8, 8)); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPrintSessionBusy(t *testing.T) {
	link := &fakeLink{holdAt: 3, hold: make(chan struct{}), holding: make(chan struct{})}
	s := connected(t, link, Options{})
	bm := testBitmap(t, 16, 16)

	done := make(chan error, 1)
	go func() {
		_, err := s.Print(context.Background(), bm)
		done <- err
	}()
	<-link.holding

	if _, err := s.Print(context.Background(), bm); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("concurrent print err = %v, want ErrSessionBusy", err)
	}
	if s.State() != Printing {
		t.Errorf("state = %v, want printing", s.State())
	}

	close(link.hold)
	if err := <-done; err != nil {
		t.Fatalf("first print: %v", err)
	}

	writes := link.recorded()
	if len(writes) != 4 || !bytes.Equal(writes[2], bm.Pix) {
		t.Errorf("in-flight job disturbed: %d writes", len(writes))
	}
}

func TestPrintCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	link := &fakeLink{}
	s := connected(t, link, Options{
		ChunkSize: 8,
		OnProgress: func(sent, total int) {
			// cancel once the first payload chunk is acknowledged
			if sent == 2+8+8 {
				cancel()
			}
		},
	})

	_, err := s.Print(ctx, testBitmap(t, 8, 32))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if n := len(link.recorded()); n != 3 {
		t.Errorf("%d writes after cancel, want 3", n)
	}
	if s.State() != Connected {
		t.Errorf("state = %v, want connected", s.State())
	}
}

func TestPrintInvalidBitmap(t *testing.T) {
	link := &fakeLink{}
	s := connected(t, link, Options{})

	tests := []struct {
		name string
		bm   *imgInternal.PackedBitmap
	}{
		{"nil", nil},
		{"short pix", &imgInternal.PackedBitmap{Width: 8, Height: 2, Stride: 1, Pix: []byte{0}}},
		{"too many rows", imgInternal.NewPackedBitmap(8, 0x10000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Print(context.Background(), tt.bm); !errors.Is(err, ErrInvalidDimensions) {
				t.Errorf("err = %v, want ErrInvalidDimensions", err)
			}
		})
	}
	if n := len(link.recorded()); n != 0 {
		t.Errorf("%d writes for invalid bitmaps", n)
	}
	if s.State() != Connected {
		t.Errorf("state = %v, want connected", s.State())
	}
}

func TestConnectChunkSize(t *testing.T) {
	tests := []struct {
		name      string
		linkMax   int
		limit     int
		wantChunk int
	}{
		{"unreported", 0, 0, DefaultChunkSize},
		{"reported", 244, 0, 244},
		{"limited", 512, 128, 128},
		{"limit above link", 20, 128, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := connected(t, &fakeLink{maxPayload: tt.linkMax}, Options{ChunkSize: tt.limit})
			if got := s.ChunkSize(); got != tt.wantChunk {
				t.Errorf("ChunkSize = %d, want %d", got, tt.wantChunk)
			}
		})
	}
}

func TestConnectIsReentrant(t *testing.T) {
	d := &fakeDialer{link: &fakeLink{}}
	s := NewSession(d, Options{})
	for i := 0; i < 3; i++ {
		if err := s.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if d.dials != 1 {
		t.Errorf("%d dials, want 1", d.dials)
	}
}

func TestConnectWhileConnecting(t *testing.T) {
	d := &fakeDialer{link: &fakeLink{}, gate: make(chan struct{})}
	s := NewSession(d, Options{})

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.State() != Connecting {
		if time.Now().After(deadline) {
			t.Fatal("session never entered connecting")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Connect(context.Background()); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("err = %v, want ErrSessionBusy", err)
	}
	close(d.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if s.State() != Connected {
		t.Errorf("state = %v, want connected", s.State())
	}
}

func TestConnectFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rejected", ErrConnectionRejected, ErrConnectionRejected},
		{"no service", ErrServiceUnavailable, ErrServiceUnavailable},
		{"other", errors.New("hci error"), ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(&fakeDialer{err: tt.err}, Options{})
			if err := s.Connect(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if s.State() != Disconnected {
				t.Errorf("state = %v, want disconnected", s.State())
			}
		})
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	link := &fakeLink{}
	s := connected(t, link, Options{})
	for i := 0; i < 2; i++ {
		if err := s.Disconnect(); err != nil {
			t.Fatalf("Disconnect #%d: %v", i, err)
		}
		if s.State() != Disconnected {
			t.Errorf("state = %v", s.State())
		}
	}
	if !link.closed {
		t.Error("link not closed")
	}

	if err := NewSession(&fakeDialer{}, Options{}).Disconnect(); err != nil {
		t.Errorf("Disconnect on fresh session: %v", err)
	}
}

func TestDisconnectDuringPrint(t *testing.T) {
	link := &fakeLink{holdAt: 3, hold: make(chan struct{}), holding: make(chan struct{})}
	s := connected(t, link, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Print(context.Background(), testBitmap(t, 16, 64))
		done <- err
	}()
	<-link.holding

	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	close(link.hold)

	if err := <-done; !errors.Is(err, ErrLinkDropped) {
		t.Errorf("err = %v, want ErrLinkDropped", err)
	}
	if s.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
	if n := len(link.recorded()); n != 4 {
		t.Errorf("%d writes, want 4 (the one after the close fails)", n)
	}
}

func TestStateString(t *testing.T) {
	if Printing.String() != "printing" || State(9).String() != "State(9)" {
		t.Error("unexpected State strings")
	}
}

type dialStep struct {
	link    *fakeLink
	err     error
	entered chan struct{}
	gate    chan struct{}
}

// scriptedDialer answers the n-th Dial with steps[n], blocking on its gate.
type scriptedDialer struct {
	mu    sync.Mutex
	steps []*dialStep
	n     int
}

func (d *scriptedDialer) Dial(ctx context.Context) (Link, error) {
	d.mu.Lock()
	step := d.steps[d.n]
	d.n++
	d.mu.Unlock()

	close(step.entered)
	<-step.gate
	if step.err != nil {
		return nil, step.err
	}
	return step.link, nil
}

func newStep(link *fakeLink, err error) *dialStep {
	return &dialStep{link: link, err: err, entered: make(chan struct{}), gate: make(chan struct{})}
}

func TestReconnectAfterAbandonedDial(t *testing.T) {
	tests := []struct {
		name     string
		staleErr error
		// staleFirst lets the abandoned dial finish before the new one
		staleFirst bool
	}{
		{"stale dial fails first", errors.New("radio off"), true},
		{"stale dial succeeds first", nil, true},
		{"stale dial fails last", errors.New("radio off"), false},
		{"stale dial succeeds last", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			staleLink, freshLink := &fakeLink{}, &fakeLink{}
			stale, fresh := newStep(staleLink, tt.staleErr), newStep(freshLink, nil)
			s := NewSession(&scriptedDialer{steps: []*dialStep{stale, fresh}}, Options{})

			staleDone := make(chan error, 1)
			go func() { staleDone <- s.Connect(context.Background()) }()
			<-stale.entered

			if err := s.Disconnect(); err != nil {
				t.Fatal(err)
			}

			freshDone := make(chan error, 1)
			go func() { freshDone <- s.Connect(context.Background()) }()
			<-fresh.entered

			var staleErr, freshErr error
			if tt.staleFirst {
				close(stale.gate)
				staleErr = <-staleDone
				if s.State() != Connecting {
					t.Errorf("state after stale dial = %v, want connecting", s.State())
				}
				close(fresh.gate)
				freshErr = <-freshDone
			} else {
				close(fresh.gate)
				freshErr = <-freshDone
				close(stale.gate)
				staleErr = <-staleDone
			}

			if freshErr != nil {
				t.Fatalf("fresh Connect: %v", freshErr)
			}
			if staleErr == nil {
				t.Error("stale Connect succeeded")
			}
			if s.State() != Connected {
				t.Errorf("state = %v, want connected", s.State())
			}
			if freshLink.closed {
				t.Error("fresh link was closed")
			}
			if tt.staleErr == nil && !staleLink.closed {
				t.Error("stale link left open")
			}

			if _, err := s.Print(context.Background(), testBitmap(t, 8, 1)); err != nil {
				t.Fatal(err)
			}
			if len(freshLink.recorded()) == 0 || len(staleLink.recorded()) != 0 {
				t.Errorf("writes: fresh %d, stale %d", len(freshLink.recorded()), len(staleLink.recorded()))
			}
		})
	}
}

// groupedLink records job boundaries alongside the writes.
type groupedLink struct {
	fakeLink
	startErr error
	events   []string
}

func (l *groupedLink) StartJob(context.Context) error {
	l.events = append(l.events, "start")
	return l.startErr
}

func (l *groupedLink) EndJob() error {
	l.events = append(l.events, "end")
	return nil
}

func (l *groupedLink) Write(ctx context.Context, p []byte) error {
	l.events = append(l.events, "write")
	return l.fakeLink.Write(ctx, p)
}

func TestPrintGroupsJobs(t *testing.T) {
	link := &groupedLink{}
	s := NewSession(linkDialer{link}, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	bm := testBitmap(t, 8, 2)
	for i := 0; i < 2; i++ {
		if _, err := s.Print(context.Background(), bm); err != nil {
			t.Fatal(err)
		}
	}
	job := []string{"start", "write", "write", "write", "write", "end"}
	want := append(append([]string{}, job...), job...)
	if !equalStrings(link.events, want) {
		t.Errorf("events = %v, want %v", link.events, want)
	}

	// a failed job still ends its document
	link.events = nil
	link.failAt = len(link.recorded()) + 2
	link.failErr = errors.New("paper out")
	if _, err := s.Print(context.Background(), bm); !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("err = %v, want ErrWriteRejected", err)
	}
	if want := []string{"start", "write", "write", "end"}; !equalStrings(link.events, want) {
		t.Errorf("events = %v, want %v", link.events, want)
	}
}

func TestPrintStartJobFails(t *testing.T) {
	link := &groupedLink{startErr: errors.New("spooler stopped")}
	s := NewSession(linkDialer{link}, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := s.Print(context.Background(), testBitmap(t, 8, 2))
	var jerr *JobError
	if !errors.As(err, &jerr) || jerr.Stage != "start" || !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("err = %v, want a start-stage ErrWriteRejected", err)
	}
	if len(link.recorded()) != 0 {
		t.Errorf("%d writes after a failed start", len(link.recorded()))
	}
	if s.State() != Connected {
		t.Errorf("state = %v, want connected", s.State())
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
