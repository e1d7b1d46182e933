package reconstruction

import (
	"image"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// columnShift estimates the circular horizontal shift between two strips by
// phase correlation. The strips are columns [refX, refX+width) of ref and
// [curX, curX+width) of cur over their common rows. The result d satisfies
// cur(x) ≈ ref(x-d) and lies in (-width/2, width/2].
//
// Each row is transformed with a real FFT and the cross-power spectra of all
// rows are summed before normalization, which is the 2D phase correlation
// surface evaluated at zero vertical shift.
func columnShift(ref, cur *image.Gray, refX, curX, width int) int {
	if width < 2 {
		return 0
	}
	rows := min(ref.Rect.Dy(), cur.Rect.Dy())

	fft := fourier.NewFFT(width)
	bins := width/2 + 1

	rowRef := make([]float64, width)
	rowCur := make([]float64, width)
	coeffRef := make([]complex128, bins)
	coeffCur := make([]complex128, bins)
	cross := make([]complex128, bins)

	for y := 0; y < rows; y++ {
		readRow(rowRef, ref, refX, y)
		readRow(rowCur, cur, curX, y)
		fft.Coefficients(coeffRef, rowRef)
		fft.Coefficients(coeffCur, rowCur)

		for k := range cross {
			cross[k] += coeffCur[k] * cmplx.Conj(coeffRef[k])
		}
	}

	for k, c := range cross {
		if mag := cmplx.Abs(c); mag > 1e-12 {
			cross[k] = c / complex(mag, 0)
		} else {
			cross[k] = 0
		}
	}

	surface := fft.Sequence(nil, cross)
	d := floats.MaxIdx(surface)
	if d > width/2 {
		d -= width
	}
	return d
}

func readRow(dst []float64, img *image.Gray, x0, y int) {
	row := img.Pix[y*img.Stride:]
	for i := range dst {
		dst[i] = float64(row[x0+i])
	}
}

// stripCorrelation returns the Pearson correlation between columns
// [refX, refX+width) of ref and [curX, curX+width) of cur, clipped to the
// columns both images have. It returns 0 when nothing overlaps or a strip is
// constant.
func stripCorrelation(ref, cur *image.Gray, refX, curX, width int) float64 {
	width = min(width, ref.Rect.Dx()-refX, cur.Rect.Dx()-curX)
	if refX < 0 || curX < 0 || width < 1 {
		return 0
	}
	rows := min(ref.Rect.Dy(), cur.Rect.Dy())

	a := make([]float64, 0, rows*width)
	b := make([]float64, 0, rows*width)
	rowA := make([]float64, width)
	rowB := make([]float64, width)
	for y := 0; y < rows; y++ {
		readRow(rowA, ref, refX, y)
		readRow(rowB, cur, curX, y)
		a = append(a, rowA...)
		b = append(b, rowB...)
	}

	if len(a) < 2 || stat.Variance(a, nil) == 0 || stat.Variance(b, nil) == 0 {
		return 0
	}
	return stat.Correlation(a, b, nil)
}
