package reconstruction

import (
	"context"
	"image"
	"log/slog"

	"golang.org/x/image/draw"
)

// Oversampling describes a sweep pattern that records more A-lines than one
// revolution of the probe. RawLines A-lines are captured for an image that is
// TheoreticalLines wide; the excess columns repeat the start of the image.
type Oversampling struct {
	RawLines         int `yaml:"rawLines" mapstructure:"rawLines"`
	TheoreticalLines int `yaml:"theoreticalLines" mapstructure:"theoreticalLines"`
}

// DefaultOversampling returns the patterns of the in vivo probe. The ex vivo
// probe records 2500 lines and needs no correction.
func DefaultOversampling() []Oversampling {
	return []Oversampling{{RawLines: 2200, TheoreticalLines: 2000}}
}

func (r *Reconstructor) lookupOversampling(lines int) (Oversampling, bool) {
	for _, o := range r.oversampling {
		if o.RawLines == lines && o.TheoreticalLines > 0 && o.TheoreticalLines < o.RawLines {
			return o, true
		}
	}
	return Oversampling{}, false
}

// EstimateDistortionOffset returns how many columns one revolution differs
// from theoretical, by phase correlating the first len-theoretical columns
// against the strip that starts at column theoretical. A positive offset
// means the revolution is longer than theoretical.
func EstimateDistortionOffset(img *image.Gray, theoretical int) int {
	width := img.Rect.Dx() - theoretical
	if theoretical <= 0 || width < 2 {
		return 0
	}
	return columnShift(img, img, 0, theoretical, width)
}

// correctDistortion crops an oversampled image to one revolution and resizes
// it to the theoretical width. Images with an unknown A-line count are
// returned unchanged.
func (r *Reconstructor) correctDistortion(img *image.Gray) *image.Gray {
	lines := img.Rect.Dx()
	o, ok := r.lookupOversampling(lines)
	if !ok {
		return img
	}

	offset := EstimateDistortionOffset(img, o.TheoreticalLines)
	width := min(max(o.TheoreticalLines+offset, 1), lines)

	if r.logger.Enabled(context.Background(), slog.LevelDebug) {
		score := stripCorrelation(img, img, 0, width, lines-o.TheoreticalLines)
		r.logger.Debug("distortion correction",
			"raw_lines", lines,
			"theoretical_lines", o.TheoreticalLines,
			"offset", offset,
			"overlap_correlation", score)
	}

	rows := img.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, o.TheoreticalLines, rows))
	src := img.SubImage(image.Rect(0, 0, width, rows))
	if width == o.TheoreticalLines {
		draw.Copy(dst, image.Point{}, src, src.Bounds(), draw.Src, nil)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}
	return dst
}
