package reconstruction

import (
	"image"
	"log/slog"

	"github.com/google/uuid"
)

// SequenceState is the inter-frame state of one reconstruction stream: the
// previous aligned B-scan. It must only be used from one goroutine and fed
// frames in order. Reset it whenever frame continuity is broken.
type SequenceState struct {
	id        uuid.UUID
	previous  *image.Gray
	lastShift int
	frames    int
}

// NewSequenceState creates an empty state for a new sequence.
func NewSequenceState() *SequenceState {
	return &SequenceState{id: uuid.New()}
}

// Reset drops the previous frame and starts a new sequence ID.
func (s *SequenceState) Reset() {
	s.id = uuid.New()
	s.previous = nil
	s.lastShift = 0
	s.frames = 0
}

// ID identifies the current sequence in logs.
func (s *SequenceState) ID() uuid.UUID {
	return s.id
}

// Previous returns the last aligned frame, or nil at the start of a sequence.
// The image must not be modified.
func (s *SequenceState) Previous() *image.Gray {
	return s.previous
}

// LastShift returns the column shift detected for the last aligned frame.
func (s *SequenceState) LastShift() int {
	return s.lastShift
}

// Frames returns how many frames went through this sequence.
func (s *SequenceState) Frames() int {
	return s.frames
}

// DetectShift returns the circular column shift d such that
// img(x) ≈ previous(x-d), and false when there is no previous frame of the
// same size.
func (s *SequenceState) DetectShift(img *image.Gray) (int, bool) {
	if s.previous == nil || s.previous.Rect.Size() != img.Rect.Size() {
		return 0, false
	}
	return columnShift(s.previous, img, 0, 0, img.Rect.Dx()), true
}

// align rotates img to line up with the previous frame and stores the result
// as the new previous frame. Without a comparable previous frame img is only
// stored.
func (s *SequenceState) align(img *image.Gray, logger *slog.Logger) *image.Gray {
	s.frames++

	shift, ok := s.DetectShift(img)
	if ok {
		s.lastShift = shift
		if shift != 0 {
			img = CircularShift(img, -shift)
		}
		logger.Debug("aligned frame", "sequence", s.id, "shift", shift)
	} else {
		s.lastShift = 0
	}

	s.previous = cloneGray(img)
	return img
}

// CircularShift returns a copy of img with every row rotated right by shift
// columns: out(x) = img(x - shift), wrapping around the width.
func CircularShift(img *image.Gray, shift int) *image.Gray {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 {
		return out
	}
	shift = ((shift % w) + w) % w

	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w]
		dst := out.Pix[y*out.Stride : y*out.Stride+w]
		copy(dst[shift:], src[:w-shift])
		copy(dst[:shift], src[w-shift:])
	}
	return out
}

func cloneGray(img *image.Gray) *image.Gray {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+w], img.Pix[y*img.Stride:y*img.Stride+w])
	}
	return out
}
