// Package acquisition drives a streaming digitizer through a fixed set of DMA
// buffers and hands every completed buffer to the reconstruction ring without
// ever waiting for the consumer.
package acquisition

import (
	"errors"
	"fmt"
	"time"
)

// DefaultWaitTimeout bounds the wait for one buffer.
const DefaultWaitTimeout = time.Second

// WaitStatus is the outcome of waiting for a posted buffer.
type WaitStatus int

const (
	WaitSuccess WaitStatus = iota
	WaitTimeout
	WaitOverflow
	WaitNotReady
	WaitUnknown
)

func (s WaitStatus) String() string {
	switch s {
	case WaitSuccess:
		return "success"
	case WaitTimeout:
		return "timeout"
	case WaitOverflow:
		return "overflow"
	case WaitNotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

// WaitResult carries the status of a buffer wait and the raw driver code.
type WaitResult struct {
	Status WaitStatus
	Code   uint32
}

// Digitizer is the streaming capability of the acquisition board. Buffers
// are posted to the board, filled in posting order and reposted once their
// content has been copied out.
type Digitizer interface {
	PostBuffer(buf []uint16) error
	WaitBufferComplete(buf []uint16, timeout time.Duration) WaitResult
	StartCapture() error
	Abort() error
}

// BufferAllocator is implemented by digitizers that need DMA capable memory.
type BufferAllocator interface {
	AllocBuffer(samples int) ([]uint16, error)
	FreeBuffer(buf []uint16) error
}

var (
	// ErrAllocation is returned when the buffer pool cannot be set up.
	ErrAllocation = errors.New("buffer allocation failed")

	ErrWaitTimeout    = errors.New("wait for buffer timed out, check that the trigger is connected")
	ErrBufferOverflow = errors.New("buffer overflow, acquisition rate exceeds the transfer rate to host memory")
	ErrBufferNotReady = errors.New("buffer not ready")
	ErrUnknownStatus  = errors.New("unknown buffer wait status")

	// ErrRunning is returned when Run is called on a pool that is running.
	ErrRunning = errors.New("acquisition already running")
)

// ConditionError reports the wait outcome that stopped an acquisition.
type ConditionError struct {
	Condition WaitStatus
	Code      uint32
	Buffer    int // buffers completed before the failure
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("acquisition stopped after %d buffers: %v (code %d)", e.Buffer, e.sentinel(), e.Code)
}

// Is matches the sentinel error of the condition.
func (e *ConditionError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ConditionError) sentinel() error {
	switch e.Condition {
	case WaitTimeout:
		return ErrWaitTimeout
	case WaitOverflow:
		return ErrBufferOverflow
	case WaitNotReady:
		return ErrBufferNotReady
	default:
		return ErrUnknownStatus
	}
}
