// Package interpolation provides the two resampling primitives used by the
// OCT reconstruction: two-point k-space linearization of a fringe and
// bilinear sampling of an 8-bit image.
package interpolation

import (
	"image"
	"math"

	"octrecon/internal/models"
)

// LinearizeLine resamples a background-corrected A-line onto a uniform
// wavenumber grid. For every output position i < n-1
//
//	dst[i] = src[t.SourceIndex]*t.LeftWeight + src[t.SourceIndex+1]*t.RightWeight
//
// with t = table[i]. The last sample has no right neighbour and is zeroed.
// dst, src and table must have the same length and the table must have been
// validated so that SourceIndex+1 stays inside src.
func LinearizeLine(dst, src []float64, table []models.LinearizationUnit) {
	n := len(dst)
	if n == 0 {
		return
	}
	src = src[:n]
	table = table[:n]

	for i := 0; i < n-1; i++ {
		t := table[i]
		dst[i] = src[t.SourceIndex]*t.LeftWeight + src[t.SourceIndex+1]*t.RightWeight
	}
	dst[n-1] = 0
}

// Lerp linearly interpolates between a and b.
func Lerp(a, b, t float64) float64 {
	return (1-t)*a + t*b
}

// SampleGray samples img at the continuous pixel position (x, y) with
// bilinear interpolation. Pixel centers sit at integer coordinates. When
// wrapX is set the image is treated as periodic along x, so positions
// between the last and first column blend those two columns.
//
// ok is false when the position falls outside the image.
func SampleGray(img *image.Gray, x, y float64, wrapX bool) (v float64, ok bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 || math.IsNaN(x) || math.IsNaN(y) {
		return 0, false
	}
	if y < 0 || y > float64(h-1) {
		return 0, false
	}

	if wrapX {
		x = math.Mod(x, float64(w))
		if x < 0 {
			x += float64(w)
		}
	} else if x < 0 || x > float64(w-1) {
		return 0, false
	}

	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	x1 := x0 + 1
	if x1 >= w {
		if wrapX {
			x1 = 0
		} else {
			x1 = w - 1
		}
	}
	y1 := y0 + 1
	if y1 >= h {
		y1 = h - 1
	}

	at := func(px, py int) float64 {
		return float64(img.Pix[py*img.Stride+px])
	}

	top := Lerp(at(x0, y0), at(x1, y0), fx)
	bottom := Lerp(at(x0, y1), at(x1, y1), fx)
	return Lerp(top, bottom, fy), true
}
