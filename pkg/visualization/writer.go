package visualization

import (
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"octrecon/internal/logging"
	"octrecon/internal/models"
)

// SaveFrame saves an image as a PNG file.
func SaveFrame(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("encoding %s: %w", filename, err)
	}
	return file.Close()
}

// FrameWriter is a display sink that writes every frame it is shown as
// numbered PNG files.
type FrameWriter struct {
	dir     string
	encoder png.Encoder
	logger  *slog.Logger
	written atomic.Int64
}

// NewFrameWriter creates the output directory and returns a writer for it.
func NewFrameWriter(dir string) (*FrameWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FrameWriter{
		dir:     dir,
		encoder: png.Encoder{CompressionLevel: png.BestSpeed},
		logger:  logging.ForModule("visualization"),
	}, nil
}

// Show writes bscan_<index>.png and, when present, radial_<index>.png.
func (w *FrameWriter) Show(res models.FrameResult) error {
	if res.BScan == nil {
		return fmt.Errorf("frame %d has no image", res.Index)
	}

	if err := w.save(res.BScan, fmt.Sprintf("bscan_%05d.png", res.Index)); err != nil {
		return err
	}
	if res.Radial != nil {
		if err := w.save(res.Radial, fmt.Sprintf("radial_%05d.png", res.Index)); err != nil {
			return err
		}
	}

	w.written.Add(1)
	w.logger.Debug("frame written", "index", res.Index, "dir", w.dir)
	return nil
}

// Written returns the number of frames written so far.
func (w *FrameWriter) Written() int64 {
	return w.written.Load()
}

func (w *FrameWriter) save(img image.Image, name string) error {
	path := filepath.Join(w.dir, name)
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := w.encoder.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return file.Close()
}
