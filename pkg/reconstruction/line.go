package reconstruction

import (
	"image"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"octrecon/internal/models"
	"octrecon/pkg/calibration"
	"octrecon/pkg/interpolation"
)

// lineWorkspace holds the pre-allocated buffers one goroutine needs to process
// A-lines of length n. gonum FFT values are not safe for concurrent use, so
// every workspace carries its own.
type lineWorkspace struct {
	n        int
	fft      *fourier.FFT
	window   []float64
	line     []float64
	linear   []float64
	spectrum []complex128
	out      []uint8
}

func newLineWorkspace(n int) *lineWorkspace {
	return &lineWorkspace{
		n:        n,
		fft:      fourier.NewFFT(n),
		window:   Hamming(n),
		line:     make([]float64, n),
		linear:   make([]float64, n),
		spectrum: make([]complex128, n/2+1),
		out:      make([]uint8, n/2+1),
	}
}

// Hamming returns the n-point Hamming window 0.54 - 0.46*cos(2*pi*i/n).
func Hamming(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// processLine runs the per-line pipeline on raw and leaves the first
// params.ImageDepth compressed bins in ws.out.
func (ws *lineWorkspace) processLine(raw []uint16, calib *calibration.Calibration, params models.ReconstructionParams) {
	background := calib.Background()

	// 1. Subtract background
	for i, v := range raw {
		ws.line[i] = float64(v) - background[i]
	}

	// 2. Resample onto a linear k grid
	interpolation.LinearizeLine(ws.linear, ws.line, calib.Table())

	// 3. Window
	for i := range ws.linear {
		ws.linear[i] *= ws.window[i]
	}

	// 4. FFT
	ws.fft.Coefficients(ws.spectrum, ws.linear)

	// 5. Log compression
	for i := 0; i < params.ImageDepth; i++ {
		ws.out[i] = CompressBin(ws.spectrum[i], params.Contrast, params.Brightness)
	}
}

// writeColumn copies the compressed line into column j of img.
func (ws *lineWorkspace) writeColumn(img *image.Gray, j int) {
	rows := img.Rect.Dy()
	for i := 0; i < rows; i++ {
		img.Pix[i*img.Stride+j] = ws.out[i]
	}
}

// CompressBin maps the power of one spectrum bin to an 8-bit sample:
// contrast * (10*log10(re^2 + im^2) + brightness), clamped to [0, 255].
func CompressBin(c complex128, contrast, brightness float64) uint8 {
	re, im := real(c), imag(c)
	power := re*re + im*im
	return ClampScore(contrast * (10*math.Log10(power) + brightness))
}

// ClampScore clamps a log-compressed score to [0, 255] and truncates it.
// NaN maps to 0.
func ClampScore(v float64) uint8 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}
