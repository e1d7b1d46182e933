package models

// DefaultALineSize is the number of digitizer samples in one A-line for the
// 180 MHz swept source.
const DefaultALineSize = 2048

// RawFrame represents a single raw digitizer capture.
type RawFrame struct {
	// Index is the position of this frame in its acquisition or file sequence.
	// Gaps between consecutive indices mean frames were dropped.
	Index int

	// Samples holds ALineCount * ALineSize fringe samples, A-line after A-line.
	Samples []uint16
}

// ALineCount returns how many whole A-lines of the given size the frame holds.
func (f *RawFrame) ALineCount(aLineSize int) int {
	if aLineSize <= 0 {
		return 0
	}
	return len(f.Samples) / aLineSize
}

// Resize makes the sample slice exactly n samples long, reusing the backing
// array when it is large enough.
func (f *RawFrame) Resize(n int) {
	if cap(f.Samples) >= n {
		f.Samples = f.Samples[:n]
		return
	}
	f.Samples = make([]uint16, n)
}

// LinearizationUnit is one entry of the k-space linearization table: output
// sample i is a blend of input samples SourceIndex and SourceIndex+1.
type LinearizationUnit struct {
	SourceIndex int
	LeftWeight  float64
	RightWeight float64
}

// ReconstructionParams holds the scan conversion parameters.
type ReconstructionParams struct {
	// Contrast scales the log-compressed power.
	Contrast float64

	// Brightness is added to the dB power before scaling.
	Brightness float64

	// ImageDepth is the number of depth samples kept per A-line.
	ImageDepth int

	// RadialPadTop is the number of blank rows inserted above the image before
	// the polar warp, hiding the catheter sheath near the center.
	RadialPadTop int

	// Workers bounds the per-line fan-out; zero means GOMAXPROCS.
	Workers int
}

// DefaultReconstructionParams returns the parameters used by the probe setup.
func DefaultReconstructionParams() ReconstructionParams {
	return ReconstructionParams{
		Contrast:     9,
		Brightness:   -57,
		ImageDepth:   624,
		RadialPadTop: 625,
	}
}

// MaxImageDepth is the length of the complex spectrum of one A-line.
func MaxImageDepth(aLineSize int) int {
	return aLineSize/2 + 1
}
