package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"octrecon/internal/models"
)

// Reader gives random access to the frames of a capture file.
type Reader struct {
	path            string
	file            *os.File
	samplesPerFrame int
	frames          int
	buf             []byte
}

// Open opens a capture file. linesPerFrame of 0 takes the record count from
// the file name. A trailing partial frame is ignored.
func Open(path string, aLineSize, linesPerFrame int) (*Reader, error) {
	if linesPerFrame <= 0 {
		linesPerFrame = RecordsFromName(path)
	}
	if linesPerFrame <= 0 || aLineSize <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordCount, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	samplesPerFrame := aLineSize * linesPerFrame
	return &Reader{
		path:            path,
		file:            file,
		samplesPerFrame: samplesPerFrame,
		frames:          int(info.Size() / int64(2*samplesPerFrame)),
	}, nil
}

// Path returns the file being read.
func (r *Reader) Path() string {
	return r.path
}

// Seq returns the name of the recording, the file name without extension.
func (r *Reader) Seq() string {
	base := filepath.Base(r.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Frames returns the number of complete frames in the file.
func (r *Reader) Frames() int {
	return r.frames
}

// SamplesPerFrame returns the number of samples in every frame.
func (r *Reader) SamplesPerFrame() int {
	return r.samplesPerFrame
}

// Read loads frame i into frame, reusing its sample storage.
// It is not safe for concurrent use.
func (r *Reader) Read(i int, frame *models.RawFrame) error {
	if i < 0 || i >= r.frames {
		return fmt.Errorf("%w: %d of %d", ErrFrameRange, i, r.frames)
	}

	size := 2 * r.samplesPerFrame
	if cap(r.buf) < size {
		r.buf = make([]byte, size)
	}
	buf := r.buf[:size]

	if _, err := r.file.ReadAt(buf, int64(i)*int64(size)); err != nil && err != io.EOF {
		return fmt.Errorf("reading frame %d: %w", i, err)
	}

	frame.Index = i
	frame.Resize(r.samplesPerFrame)
	for j := range frame.Samples {
		frame.Samples[j] = binary.LittleEndian.Uint16(buf[2*j:])
	}
	return nil
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}
