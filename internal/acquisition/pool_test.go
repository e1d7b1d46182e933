package acquisition

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"octrecon/internal/logging"
	"octrecon/internal/models"
	"octrecon/internal/ringbuf"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testALineSize = 64
	testRecords   = 4
)

func newTestRing(t *testing.T, capacity int) *ringbuf.Ring[models.RawFrame] {
	t.Helper()
	ring, err := ringbuf.New[models.RawFrame](capacity, nil)
	require.NoError(t, err)
	return ring
}

func newTestSimulator(mutate func(*SimulatorConfig)) *Simulator {
	cfg := DefaultSimulatorConfig(testALineSize, testRecords)
	cfg.FrameInterval = 0
	cfg.Seed = 1
	if mutate != nil {
		mutate(&cfg)
	}
	return NewSimulator(cfg)
}

func newTestPool(t *testing.T, d Digitizer, ring *ringbuf.Ring[models.RawFrame], opts Options) *Pool {
	t.Helper()
	opts.Logger = logging.Discard()
	p, err := New(d, ring, Config{
		ALineSize:        testALineSize,
		RecordsPerBuffer: testRecords,
		BufferCount:      3,
		Timeout:          50 * time.Millisecond,
	}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func drain(ring *ringbuf.Ring[models.RawFrame]) []models.RawFrame {
	ring.Quit()
	var frames []models.RawFrame
	for ring.Consume(func(f *models.RawFrame) {
		frames = append(frames, models.RawFrame{Index: f.Index, Samples: append([]uint16(nil), f.Samples...)})
	}) {
	}
	return frames
}

func TestRunDeliversFramesInOrder(t *testing.T) {
	sim := newTestSimulator(nil)
	ring := newTestRing(t, 8)
	p := newTestPool(t, sim, ring, Options{})

	require.NoError(t, p.Run(context.Background(), 5))

	frames := drain(ring)
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, i, f.Index)
		assert.Len(t, f.Samples, testALineSize*testRecords)
	}
	assert.NotEqual(t, frames[0].Samples, frames[1].Samples, "scene drifts between frames")
	assert.Equal(t, uint64(5), p.Stats().BuffersCompleted)
	assert.Equal(t, 1, sim.Aborts())
}

func TestRunNeverWaitsForConsumer(t *testing.T) {
	ring := newTestRing(t, 2)
	p := newTestPool(t, newTestSimulator(nil), ring, Options{})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), 50) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("acquisition blocked on a ring nobody consumes")
	}

	stats := ring.Stats()
	assert.Equal(t, uint64(50), stats.Produced)
	assert.Equal(t, uint64(48), stats.Dropped)

	frames := drain(ring)
	require.Len(t, frames, 2)
	assert.Equal(t, 48, frames[0].Index)
	assert.Equal(t, 49, frames[1].Index)
}

func TestRunStopsOnCondition(t *testing.T) {
	tests := []struct {
		name     string
		status   WaitStatus
		sentinel error
	}{
		{"timeout", WaitTimeout, ErrWaitTimeout},
		{"overflow", WaitOverflow, ErrBufferOverflow},
		{"not ready", WaitNotReady, ErrBufferNotReady},
		{"unknown", WaitUnknown, ErrUnknownStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newTestSimulator(func(c *SimulatorConfig) {
				c.FailAfter = 3
				c.FailWith = tt.status
			})
			ring := newTestRing(t, 8)
			p := newTestPool(t, sim, ring, Options{})

			err := p.Run(context.Background(), 10)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var cerr *ConditionError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.status, cerr.Condition)
			assert.Equal(t, 3, cerr.Buffer)
			assert.NotZero(t, cerr.Code)

			assert.Equal(t, 1, sim.Aborts())
			assert.Len(t, drain(ring), 3, "only complete frames reach the ring")
		})
	}
}

func TestConditionErrorMatchesOnlyItsSentinel(t *testing.T) {
	err := &ConditionError{Condition: WaitOverflow, Code: codeOverflow}
	assert.ErrorIs(t, err, ErrBufferOverflow)
	assert.NotErrorIs(t, err, ErrWaitTimeout)
	assert.Contains(t, err.Error(), "overflow")
}

func TestSinkReceivesLittleEndianBuffers(t *testing.T) {
	var sink bytes.Buffer
	ring := newTestRing(t, 4)
	p := newTestPool(t, newTestSimulator(nil), ring, Options{Sink: &sink})

	require.NoError(t, p.Run(context.Background(), 3))
	frames := drain(ring)
	require.Len(t, frames, 3)

	var want []byte
	for _, f := range frames {
		for _, v := range f.Samples {
			want = binary.LittleEndian.AppendUint16(want, v)
		}
	}
	assert.Equal(t, want, sink.Bytes())
}

type failingWriter struct {
	calls int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestSinkFailureDoesNotStopAcquisition(t *testing.T) {
	sink := &failingWriter{}
	ring := newTestRing(t, 8)
	p := newTestPool(t, newTestSimulator(nil), ring, Options{Sink: sink})

	require.NoError(t, p.Run(context.Background(), 4))
	assert.Equal(t, 4, sink.calls)
	assert.Equal(t, uint64(4), p.Stats().SinkErrors)
	assert.Len(t, drain(ring), 4)
}

func TestStopEndsUnlimitedRun(t *testing.T) {
	sim := newTestSimulator(func(c *SimulatorConfig) { c.FrameInterval = time.Millisecond })
	ring := newTestRing(t, 2)
	p := newTestPool(t, sim, ring, Options{})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), 0) }()

	require.Eventually(t, func() bool { return p.Stats().BuffersCompleted >= 3 }, 5*time.Second, time.Millisecond)
	assert.True(t, p.Running())
	p.Stop()

	require.NoError(t, <-done)
	assert.False(t, p.Running())
	assert.Equal(t, 1, sim.Aborts())
}

func TestContextCancellationEndsRun(t *testing.T) {
	sim := newTestSimulator(func(c *SimulatorConfig) { c.FrameInterval = time.Millisecond })
	p := newTestPool(t, sim, newTestRing(t, 2), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, 0) }()

	require.Eventually(t, func() bool { return p.Stats().BuffersCompleted >= 1 }, 5*time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, sim.Aborts())
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	sim := newTestSimulator(func(c *SimulatorConfig) { c.FrameInterval = time.Millisecond })
	p := newTestPool(t, sim, newTestRing(t, 2), Options{})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), 0) }()
	require.Eventually(t, p.Running, 5*time.Second, time.Millisecond)

	assert.ErrorIs(t, p.Run(context.Background(), 1), ErrRunning)
	assert.ErrorIs(t, p.Close(), ErrRunning)

	p.Stop()
	require.NoError(t, <-done)
}

type limitedAllocator struct {
	*Simulator
	limit int
}

func (a *limitedAllocator) AllocBuffer(samples int) ([]uint16, error) {
	if a.limit == 0 {
		return nil, errors.New("out of DMA memory")
	}
	a.limit--
	return a.Simulator.AllocBuffer(samples)
}

type rejectingPoster struct {
	*Simulator
	accept int
}

func (r *rejectingPoster) PostBuffer(buf []uint16) error {
	if r.accept == 0 {
		return errors.New("board rejected buffer")
	}
	r.accept--
	return r.Simulator.PostBuffer(buf)
}

func TestRunAbortsWhenPostingFails(t *testing.T) {
	sim := newTestSimulator(nil)
	d := &rejectingPoster{Simulator: sim, accept: 1}
	p := newTestPool(t, d, newTestRing(t, 2), Options{})

	err := p.Run(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "posting buffer 1")
	assert.Equal(t, 1, sim.Aborts())
	assert.False(t, p.Running())
}

func TestCloseRacingRunIsSafe(t *testing.T) {
	for i := 0; i < 100; i++ {
		sim := newTestSimulator(nil)
		p := newTestPool(t, sim, newTestRing(t, 2), Options{})

		var (
			wg       sync.WaitGroup
			runErr   error
			closeErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			runErr = p.Run(context.Background(), 3)
		}()
		go func() {
			defer wg.Done()
			closeErr = p.Close()
		}()
		wg.Wait()

		if closeErr == nil && runErr != nil {
			assert.ErrorIs(t, runErr, ErrAllocation)
		}
		if closeErr != nil {
			assert.ErrorIs(t, closeErr, ErrRunning)
			require.NoError(t, runErr)
		}
		require.NoError(t, p.Close())
		assert.Zero(t, sim.Allocated())
	}
}

func TestNewFailsOnAllocation(t *testing.T) {
	sim := newTestSimulator(nil)
	d := &limitedAllocator{Simulator: sim, limit: 2}

	_, err := New(d, newTestRing(t, 2), Config{
		ALineSize:        testALineSize,
		RecordsPerBuffer: testRecords,
		BufferCount:      4,
	}, Options{Logger: logging.Discard()})
	assert.ErrorIs(t, err, ErrAllocation)
	assert.Zero(t, sim.Allocated(), "buffers allocated before the failure are freed")
}

func TestNewValidatesLayout(t *testing.T) {
	ring := newTestRing(t, 2)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"single buffer", Config{ALineSize: 8, RecordsPerBuffer: 2, BufferCount: 1}},
		{"no samples", Config{ALineSize: 0, RecordsPerBuffer: 2, BufferCount: 2}},
		{"no records", Config{ALineSize: 8, RecordsPerBuffer: 0, BufferCount: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(newTestSimulator(nil), ring, tt.cfg, Options{Logger: logging.Discard()})
			assert.ErrorIs(t, err, ErrAllocation)
		})
	}
}

func TestCloseFreesBuffers(t *testing.T) {
	sim := newTestSimulator(nil)
	p, err := New(sim, newTestRing(t, 2), Config{
		ALineSize:        testALineSize,
		RecordsPerBuffer: testRecords,
		BufferCount:      3,
	}, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, 3, sim.Allocated())
	assert.Equal(t, DefaultWaitTimeout, p.Config().Timeout)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Zero(t, sim.Allocated())
	assert.Error(t, p.Run(context.Background(), 1))
}

func TestWaitStatusString(t *testing.T) {
	assert.Equal(t, "success", WaitSuccess.String())
	assert.Equal(t, "timeout", WaitTimeout.String())
	assert.Equal(t, "overflow", WaitOverflow.String())
	assert.Equal(t, "not_ready", WaitNotReady.String())
	assert.Equal(t, "unknown", WaitStatus(42).String())
}
