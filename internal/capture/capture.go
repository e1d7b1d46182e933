// Package capture persists raw digitizer buffers to .bin files and reads them
// back for replay.
//
// A capture file is the plain concatenation of complete buffers, each buffer
// being RecordsPerBuffer A-lines of 16-bit little-endian samples. The record
// count is encoded in the file name: OCT<YYYYMMDDhhmmss>_<records>.bin.
package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

const timestampLayout = "20060102150405"

var (
	// ErrNoRecordCount is returned when neither the file name nor the caller
	// gives the number of A-lines per frame.
	ErrNoRecordCount = errors.New("cannot determine A-lines per frame")

	// ErrFrameRange is returned when reading past the last frame.
	ErrFrameRange = errors.New("frame index out of range")
)

var recordsPattern = regexp.MustCompile(`_(\d+)\.(?:bin|dat)$`)

// FileName returns the capture file name for a recording started at t.
func FileName(t time.Time, recordsPerBuffer int) string {
	return fmt.Sprintf("OCT%s_%d.bin", t.Format(timestampLayout), recordsPerBuffer)
}

// RecordsFromName extracts the records-per-buffer count from a capture file
// name, returning 0 when the name carries none.
func RecordsFromName(path string) int {
	m := recordsPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// FileSink writes completed buffers to a new capture file.
type FileSink struct {
	path string
	file *os.File
	w    *bufio.Writer
}

// Create opens a new capture file in dir named after t and recordsPerBuffer.
func Create(dir string, t time.Time, recordsPerBuffer int) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating capture dir: %w", err)
	}
	path := filepath.Join(dir, FileName(t, recordsPerBuffer))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file for writing: %w", err)
	}
	return &FileSink{path: path, file: file, w: bufio.NewWriterSize(file, 1<<20)}, nil
}

// Path returns the file being written.
func (s *FileSink) Path() string {
	return s.path
}

// Write appends raw bytes to the file.
func (s *FileSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// WriteSamples appends one buffer of samples in little-endian order.
func (s *FileSink) WriteSamples(samples []uint16) error {
	return binary.Write(s.w, binary.LittleEndian, samples)
}

// Close flushes buffered data and closes the file.
func (s *FileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
