package models

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// FrameResult is one reconstructed frame ready for display.
type FrameResult struct {
	// Index is the RawFrame index the images were built from.
	Index int

	// Sequence identifies the alignment sequence the frame belongs to.
	Sequence uuid.UUID

	// BScan is the aligned rectangular image, depth along rows.
	BScan *image.Gray

	// Radial is the polar view of BScan, or nil when disabled.
	Radial *image.Gray

	// Shift is the column shift removed by temporal alignment.
	Shift int

	Elapsed time.Duration
}
