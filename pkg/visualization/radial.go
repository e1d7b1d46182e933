// Package visualization renders reconstructed B-scans for display: the polar
// (radial) view of a rotating probe and PNG output of both views.
package visualization

import (
	"image"
	"math"

	"octrecon/pkg/interpolation"
)

// ToRadialView warps a rectangular B-scan into the cross-sectional view of a
// rotating probe. Columns of img are A-lines spread evenly over one turn and
// rows are depth, measured outward from the probe.
//
// With dim = min(rows, cols) the result is a 2*dim square centered at
// (dim, dim) with radius dim. padTop blank rows are placed in front of the
// first image row, which leaves a dark disk around the center. Pixels
// outside the radius are zero.
func ToRadialView(img *image.Gray, padTop int) *image.Gray {
	rows, cols := img.Rect.Dy(), img.Rect.Dx()
	dim := min(rows, cols)
	if dim == 0 {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	padTop = max(padTop, 0)

	size := 2 * dim
	out := image.NewGray(image.Rect(0, 0, size, size))

	radius := float64(dim)
	rhoScale := float64(rows+padTop) / radius
	angleScale := float64(cols) / (2 * math.Pi)

	for y := 0; y < size; y++ {
		dy := float64(y) - radius
		for x := 0; x < size; x++ {
			dx := float64(x) - radius
			mag := math.Hypot(dx, dy)
			if mag >= radius {
				continue
			}

			angle := math.Atan2(dy, dx)
			if angle < 0 {
				angle += 2 * math.Pi
			}

			row := mag*rhoScale - float64(padTop)
			col := angle * angleScale
			out.Pix[y*out.Stride+x] = sampleRow(img, col, row)
		}
	}
	return out
}

// sampleRow reads img at a fractional column and row. Rows above the image
// belong to the blank pad, so the first image row blends toward zero.
func sampleRow(img *image.Gray, col, row float64) uint8 {
	if row >= 0 {
		v, ok := interpolation.SampleGray(img, col, row, true)
		if !ok {
			return 0
		}
		return uint8(math.Round(v))
	}
	if row <= -1 {
		return 0
	}
	v, ok := interpolation.SampleGray(img, col, 0, true)
	if !ok {
		return 0
	}
	return uint8(math.Round(interpolation.Lerp(0, v, row+1)))
}
