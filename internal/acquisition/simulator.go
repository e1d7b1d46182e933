package acquisition

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Driver return codes reported by the simulator
const (
	codeSuccess  = 512
	codeNotReady = 573
	codeTimeout  = 579
	codeOverflow = 582
	codeUnknown  = 600
)

// SimulatorConfig describes the synthetic sample stream.
type SimulatorConfig struct {
	ALineSize        int
	RecordsPerBuffer int

	// FringeCycles is the fringe frequency, in cycles per A-line, of the
	// reflector at the mean depth.
	FringeCycles float64

	// DepthSwing varies the reflector frequency around the turn, so the
	// image is not rotation invariant.
	DepthSwing float64

	// Noise is the standard deviation of the additive sample noise.
	Noise float64

	// DriftPerFrame rotates the scene by this many A-lines every frame.
	DriftPerFrame int

	// FrameInterval paces the buffers, zero delivers them immediately.
	FrameInterval time.Duration

	// FailAfter makes the wait for buffer FailAfter (counting from 0) return
	// FailWith. Zero disables fault injection.
	FailAfter int
	FailWith  WaitStatus

	Seed int64
}

// DefaultSimulatorConfig returns a config producing a visible ring structure
// for the given buffer layout.
func DefaultSimulatorConfig(aLineSize, records int) SimulatorConfig {
	return SimulatorConfig{
		ALineSize:        aLineSize,
		RecordsPerBuffer: records,
		FringeCycles:     float64(aLineSize) / 8,
		DepthSwing:       float64(aLineSize) / 64,
		Noise:            20,
		DriftPerFrame:    3,
		FrameInterval:    20 * time.Millisecond,
	}
}

// Simulator is a Digitizer producing synthetic fringes. Buffers complete in
// posting order like on the real board.
type Simulator struct {
	cfg SimulatorConfig

	mu        sync.Mutex
	rng       *rand.Rand
	posted    [][]uint16
	capturing bool
	waits     int
	frames    int
	aborts    int
	allocated int
}

// NewSimulator creates a simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	return &Simulator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// AllocBuffer implements BufferAllocator.
func (s *Simulator) AllocBuffer(samples int) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocated++
	return make([]uint16, samples), nil
}

// FreeBuffer implements BufferAllocator.
func (s *Simulator) FreeBuffer([]uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocated--
	return nil
}

// PostBuffer queues buf for filling.
func (s *Simulator) PostBuffer(buf []uint16) error {
	if len(buf) == 0 {
		return errors.New("empty buffer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = append(s.posted, buf)
	return nil
}

// StartCapture starts filling posted buffers.
func (s *Simulator) StartCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.posted) == 0 {
		return errors.New("no buffers posted")
	}
	s.capturing = true
	return nil
}

// WaitBufferComplete fills buf, which must be the oldest posted buffer.
func (s *Simulator) WaitBufferComplete(buf []uint16, timeout time.Duration) WaitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait := s.waits
	s.waits++

	if s.cfg.FailAfter > 0 && wait >= s.cfg.FailAfter {
		if s.cfg.FailWith == WaitTimeout {
			time.Sleep(timeout)
		}
		return WaitResult{Status: s.cfg.FailWith, Code: codeFor(s.cfg.FailWith)}
	}
	if !s.capturing || len(s.posted) == 0 || &s.posted[0][0] != &buf[0] {
		return WaitResult{Status: WaitNotReady, Code: codeNotReady}
	}
	if s.cfg.FrameInterval > timeout {
		time.Sleep(timeout)
		return WaitResult{Status: WaitTimeout, Code: codeTimeout}
	}
	time.Sleep(s.cfg.FrameInterval)

	s.posted = s.posted[1:]
	s.fill(buf, s.frames)
	s.frames++
	return WaitResult{Status: WaitSuccess, Code: codeSuccess}
}

// Abort stops the capture and forgets posted buffers.
func (s *Simulator) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = false
	s.posted = nil
	s.waits = 0
	s.aborts++
	return nil
}

// Aborts returns how many times Abort was called.
func (s *Simulator) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

// Allocated returns the number of buffers not yet freed.
func (s *Simulator) Allocated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocated
}

// fill writes one frame of fringes. A-line j of frame f images the scene
// column (j + f*drift) mod lines.
func (s *Simulator) fill(buf []uint16, frame int) {
	n, lines := s.cfg.ALineSize, s.cfg.RecordsPerBuffer
	if n <= 0 || lines <= 0 {
		return
	}
	lines = min(lines, len(buf)/n)

	for j := 0; j < lines; j++ {
		col := ((j+frame*s.cfg.DriftPerFrame)%lines + lines) % lines
		angle := 2 * math.Pi * float64(col) / float64(lines)
		cycles := s.cfg.FringeCycles + s.cfg.DepthSwing*math.Sin(angle)

		line := buf[j*n : (j+1)*n]
		for i := range line {
			v := 2048 + 1000*math.Cos(2*math.Pi*cycles*float64(i)/float64(n))
			if s.cfg.Noise > 0 {
				v += s.rng.NormFloat64() * s.cfg.Noise
			}
			line[i] = uint16(math.Max(0, math.Min(math.MaxUint16, v)))
		}
	}
}

func codeFor(status WaitStatus) uint32 {
	switch status {
	case WaitSuccess:
		return codeSuccess
	case WaitTimeout:
		return codeTimeout
	case WaitOverflow:
		return codeOverflow
	case WaitNotReady:
		return codeNotReady
	default:
		return codeUnknown
	}
}
