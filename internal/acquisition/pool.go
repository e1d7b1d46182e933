package acquisition

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"octrecon/internal/logging"
	"octrecon/internal/metrics"
	"octrecon/internal/models"
	"octrecon/internal/ringbuf"
)

// Config describes the buffer layout of an acquisition.
type Config struct {
	ALineSize        int // samples per A-line
	RecordsPerBuffer int // A-lines per buffer, one frame per buffer
	BufferCount      int // buffers cycling through the board, at least 2
	Timeout          time.Duration
}

// SamplesPerBuffer returns the number of samples in one buffer.
func (c Config) SamplesPerBuffer() int {
	return c.ALineSize * c.RecordsPerBuffer
}

// Options holds the optional collaborators of a Pool.
type Options struct {
	// Sink receives every completed buffer as little-endian samples.
	Sink io.Writer

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	BuffersCompleted uint64
	SinkErrors       uint64
}

// Pool streams buffers from a digitizer into a ring of raw frames.
type Pool struct {
	digitizer Digitizer
	ring      *ringbuf.Ring[models.RawFrame]
	cfg       Config
	buffers   [][]uint16

	sink    io.Writer
	raw     []byte
	metrics *metrics.Metrics
	logger  *slog.Logger

	running atomic.Bool
	stop    atomic.Bool
	closed  bool
	mu      sync.Mutex

	completed  atomic.Uint64
	sinkErrors atomic.Uint64
}

// New allocates the buffers of a pool. Buffers come from the digitizer when
// it implements BufferAllocator.
func New(d Digitizer, ring *ringbuf.Ring[models.RawFrame], cfg Config, opts Options) (*Pool, error) {
	if cfg.ALineSize <= 0 || cfg.RecordsPerBuffer <= 0 {
		return nil, fmt.Errorf("%w: invalid buffer size %d x %d", ErrAllocation, cfg.RecordsPerBuffer, cfg.ALineSize)
	}
	if cfg.BufferCount < 2 {
		return nil, fmt.Errorf("%w: need at least 2 buffers, got %d", ErrAllocation, cfg.BufferCount)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWaitTimeout
	}

	p := &Pool{
		digitizer: d,
		ring:      ring,
		cfg:       cfg,
		sink:      opts.Sink,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if p.logger == nil {
		p.logger = logging.ForModule("acquisition")
	}

	samples := cfg.SamplesPerBuffer()
	alloc, _ := d.(BufferAllocator)
	for i := 0; i < cfg.BufferCount; i++ {
		var buf []uint16
		if alloc != nil {
			var err error
			if buf, err = alloc.AllocBuffer(samples); err != nil || len(buf) < samples {
				p.release()
				if err == nil {
					err = fmt.Errorf("got %d samples", len(buf))
				}
				return nil, fmt.Errorf("%w: buffer %d of %d samples: %v", ErrAllocation, i, samples, err)
			}
			buf = buf[:samples]
		} else {
			buf = make([]uint16, samples)
		}
		p.buffers = append(p.buffers, buf)
		p.logger.Debug("allocated buffer", "index", i, "bytes", 2*samples)
	}

	if p.sink != nil {
		p.raw = make([]byte, 0, 2*samples)
	}
	return p, nil
}

// Config returns the buffer layout.
func (p *Pool) Config() Config {
	return p.cfg
}

// Run acquires buffersToAcquire buffers, or until stopped when it is zero.
//
// Every completed buffer is copied into the ring with ProduceNoWait, written
// to the sink and posted back to the board. Any wait outcome other than
// success ends the run with a *ConditionError. The board is aborted on every
// exit path. Stop ends the run with a nil error, cancelling ctx ends it with
// the context error.
func (p *Pool) Run(ctx context.Context, buffersToAcquire int) (err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("%w: pool closed", ErrAllocation)
	}
	if !p.running.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return ErrRunning
	}
	p.mu.Unlock()
	defer p.running.Store(false)
	p.stop.Store(false)

	defer func() {
		if abortErr := p.digitizer.Abort(); abortErr != nil {
			p.logger.Warn("abort failed", "error", abortErr)
			if err == nil {
				err = fmt.Errorf("aborting acquisition: %w", abortErr)
			}
		}
	}()

	for i, buf := range p.buffers {
		if err := p.digitizer.PostBuffer(buf); err != nil {
			return fmt.Errorf("posting buffer %d: %w", i, err)
		}
	}

	if err := p.digitizer.StartCapture(); err != nil {
		return fmt.Errorf("starting capture: %w", err)
	}
	p.logger.Info("acquisition started",
		"buffers", len(p.buffers),
		"records_per_buffer", p.cfg.RecordsPerBuffer,
		"max_buffers", buffersToAcquire)

	completed := 0
	for buffersToAcquire <= 0 || completed < buffersToAcquire {
		if p.stop.Load() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		buf := p.buffers[completed%len(p.buffers)]
		res := p.digitizer.WaitBufferComplete(buf, p.cfg.Timeout)
		if res.Status != WaitSuccess {
			p.metrics.RecordAcquisitionFault(res.Status.String())
			cerr := &ConditionError{Condition: res.Status, Code: res.Code, Buffer: completed}
			p.logger.Error("acquisition stopped", "condition", res.Status, "code", res.Code, "completed", completed)
			return cerr
		}

		completed++
		index := completed - 1
		p.ring.ProduceNoWait(func(f *models.RawFrame) {
			f.Index = index
			f.Resize(len(buf))
			copy(f.Samples, buf)
		})
		p.completed.Add(1)
		p.metrics.RecordBufferCompleted()

		if p.sink != nil {
			p.writeSink(index, buf)
		}

		if err := p.digitizer.PostBuffer(buf); err != nil {
			return fmt.Errorf("reposting buffer %d: %w", completed%len(p.buffers), err)
		}
	}

	p.logger.Info("acquisition finished", "completed", completed)
	return nil
}

func (p *Pool) writeSink(index int, buf []uint16) {
	raw := p.raw[:0]
	for _, v := range buf {
		raw = binary.LittleEndian.AppendUint16(raw, v)
	}
	p.raw = raw

	start := time.Now()
	n, err := p.sink.Write(raw)
	if err == nil && n < len(raw) {
		err = io.ErrShortWrite
	}
	p.metrics.RecordSinkWrite(n, err)
	if err != nil {
		p.sinkErrors.Add(1)
		p.logger.Error("write buffer failed", "index", index, "error", err)
		return
	}

	if elapsed := time.Since(start); elapsed > 0 {
		p.logger.Debug("wrote buffer",
			"index", index,
			"bytes", n,
			"mb_per_s", float64(n)/1e6/elapsed.Seconds())
	}
}

// Stop asks a running acquisition to finish after the current buffer.
func (p *Pool) Stop() {
	p.stop.Store(true)
}

// Running reports whether Run is in progress.
func (p *Pool) Running() bool {
	return p.running.Load()
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		BuffersCompleted: p.completed.Load(),
		SinkErrors:       p.sinkErrors.Load(),
	}
}

// Close releases the buffers. It must not be called while Run is in progress.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		return ErrRunning
	}
	if p.closed {
		return nil
	}
	p.closed = true
	return p.release()
}

func (p *Pool) release() error {
	alloc, ok := p.digitizer.(BufferAllocator)
	var firstErr error
	for _, buf := range p.buffers {
		if !ok {
			continue
		}
		if err := alloc.FreeBuffer(buf); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.buffers = nil
	return firstErr
}
