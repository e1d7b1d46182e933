package reconstruction

import (
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"octrecon/internal/logging"
)

// periodicImage returns a w x h image whose columns repeat every period
func periodicImage(w, h, period int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	columns := make([][]uint8, period)
	for i := range columns {
		columns[i] = make([]uint8, h)
		for y := range columns[i] {
			columns[i][y] = uint8(rng.Intn(256))
		}
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Pix[y*img.Stride+x] = columns[x%period][y]
		}
	}
	return img
}

func TestEstimateDistortionOffset(t *testing.T) {
	tests := []struct {
		name   string
		period int
		want   int
	}{
		{"long revolution", 2003, 3},
		{"exact revolution", 2000, 0},
		{"short revolution", 1995, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := periodicImage(2200, 16, tt.period, 5)
			assert.Equal(t, tt.want, EstimateDistortionOffset(img, 2000))
		})
	}
}

func TestEstimateDistortionOffsetWithoutOverlap(t *testing.T) {
	img := periodicImage(100, 4, 100, 1)
	assert.Zero(t, EstimateDistortionOffset(img, 100))
	assert.Zero(t, EstimateDistortionOffset(img, 0))
}

func TestCorrectDistortionResizesOversampledFrames(t *testing.T) {
	r := NewReconstructor(Options{Logger: logging.Discard()})

	img := periodicImage(2200, 8, 2003, 9)
	out := r.correctDistortion(img)
	require.NotNil(t, out)
	assert.Equal(t, 2000, out.Rect.Dx())
	assert.Equal(t, 8, out.Rect.Dy())

	// An exact revolution is copied without resampling.
	img = periodicImage(2200, 8, 2000, 9)
	out = r.correctDistortion(img)
	assert.Equal(t, img.SubImage(image.Rect(0, 0, 2000, 8)).(*image.Gray).Pix[:2000], out.Pix[:2000])
}

func TestCorrectDistortionPassesOtherWidthsThrough(t *testing.T) {
	r := NewReconstructor(Options{Logger: logging.Discard()})
	for _, w := range []int{2000, 2100, 2500} {
		img := periodicImage(w, 4, 50, 2)
		assert.Same(t, img, r.correctDistortion(img))
	}
}

func TestCustomOversamplingTable(t *testing.T) {
	r := NewReconstructor(Options{
		Oversampling: []Oversampling{{RawLines: 120, TheoreticalLines: 100}},
		Logger:       logging.Discard(),
	})

	out := r.correctDistortion(periodicImage(120, 4, 100, 3))
	assert.Equal(t, 100, out.Rect.Dx())

	img := periodicImage(2200, 4, 2000, 3)
	assert.Same(t, img, r.correctDistortion(img))
}
