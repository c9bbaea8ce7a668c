package printer

import (
	imgInternal "github.com/AlexStarov/labelprint-GoLang-lib/image"
	utilInternal "github.com/AlexStarov/labelprint-GoLang-lib/util"
)

// Job is the framed form of one bitmap: every byte sequence the session
// writes, in order.
type Job struct {
	Init     []byte
	Preamble []byte
	Header   []byte
	Payload  []byte
	Trailer  []byte

	ChunkSize int

	width, height, stride int
}

// JobInfo summarises a framed job for logging and diagnostics.
type JobInfo struct {
	Width, Height int
	BytesPerRow   int
	PayloadBytes  int
	TotalBytes    int
	ChunkSize     int
	Chunks        int
	Header        string
	Trailer       string
}

// NewJob frames bm for a link that accepts chunkSize bytes per write. The
// header is computed from bm itself, so it always matches the payload.
func NewJob(bm *imgInternal.PackedBitmap, chunkSize int, preamble Preamble) (*Job, error) {
	if err := bm.Validate(); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	header, err := rasterHeader(bm.Stride, bm.Height)
	if err != nil {
		return nil, err
	}

	return &Job{
		Init:      cmdInit,
		Preamble:  preamble.bytes(),
		Header:    header,
		Payload:   bm.Pix,
		Trailer:   cmdFeedCut,
		ChunkSize: chunkSize,
		width:     bm.Width,
		height:    bm.Height,
		stride:    bm.Stride,
	}, nil
}

// Chunks splits the payload into consecutive slices of at most ChunkSize
// bytes. They share memory with the payload.
func (j *Job) Chunks() [][]byte {
	chunks := make([][]byte, 0, (len(j.Payload)+j.ChunkSize-1)/j.ChunkSize)
	for off := 0; off < len(j.Payload); off += j.ChunkSize {
		end := off + j.ChunkSize
		if end > len(j.Payload) {
			end = len(j.Payload)
		}
		chunks = append(chunks, j.Payload[off:end:end])
	}
	return chunks
}

// Total is the number of bytes the job writes to the link.
func (j *Job) Total() int {
	return len(j.Init) + len(j.Preamble) + len(j.Header) + len(j.Payload) + len(j.Trailer)
}

func (j *Job) Info() JobInfo {
	return JobInfo{
		Width:        j.width,
		Height:       j.height,
		BytesPerRow:  j.stride,
		PayloadBytes: len(j.Payload),
		TotalBytes:   j.Total(),
		ChunkSize:    j.ChunkSize,
		Chunks:       (len(j.Payload) + j.ChunkSize - 1) / j.ChunkSize,
		Header:       utilInternal.Hex(append(append(append([]byte{}, j.Init...), j.Preamble...), j.Header...)),
		Trailer:      utilInternal.Hex(j.Trailer),
	}
}
