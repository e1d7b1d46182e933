// Package calibration holds the per-session calibration arrays used by the
// reconstruction engine and reads/writes them from calibration directories.
package calibration

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"octrecon/internal/models"
)

// File names inside a calibration directory
const (
	BackgroundFile = "SSOCTBackground.txt"
	PhaseFile      = "SSOCTCalibration180MHZ.txt"
)

var (
	// ErrSizeMismatch is returned when an array does not hold exactly one
	// value per A-line sample.
	ErrSizeMismatch = errors.New("calibration size mismatch")

	// ErrInvalidTable is returned when a linearization entry points outside
	// the A-line or carries a non-finite weight.
	ErrInvalidTable = errors.New("invalid linearization table")

	// ErrInvalidBackground is returned for non-finite background samples.
	ErrInvalidBackground = errors.New("invalid background spectrum")
)

// Calibration is the immutable background spectrum and k-linearization table
// for one A-line size. Values are never modified after New returns; loading
// a new calibration creates a new value.
type Calibration struct {
	background []float64
	table      []models.LinearizationUnit
	source     string
	loadedAt   time.Time
}

// New validates and copies the given arrays into a Calibration.
func New(background []float64, table []models.LinearizationUnit) (*Calibration, error) {
	n := len(background)
	if n < 2 {
		return nil, fmt.Errorf("%w: background has %d samples, need at least 2", ErrSizeMismatch, n)
	}
	if len(table) != n {
		return nil, fmt.Errorf("%w: background has %d samples but table has %d entries",
			ErrSizeMismatch, n, len(table))
	}

	for i, v := range background {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: sample %d is %v", ErrInvalidBackground, i, v)
		}
	}

	// The last output sample is never interpolated, so its entry only needs
	// to point inside the line.
	for i, u := range table {
		limit := n - 1
		if i == n-1 {
			limit = n
		}
		if u.SourceIndex < 0 || u.SourceIndex >= limit {
			return nil, fmt.Errorf("%w: entry %d has source index %d, want [0, %d)",
				ErrInvalidTable, i, u.SourceIndex, limit)
		}
		if !finite(u.LeftWeight) || !finite(u.RightWeight) {
			return nil, fmt.Errorf("%w: entry %d has non-finite weights", ErrInvalidTable, i)
		}
	}

	c := &Calibration{
		background: make([]float64, n),
		table:      make([]models.LinearizationUnit, n),
		loadedAt:   time.Now(),
	}
	copy(c.background, background)
	copy(c.table, table)
	return c, nil
}

// Identity returns a calibration with a zero background and a table that
// passes every sample through unchanged.
func Identity(aLineSize int) (*Calibration, error) {
	background := make([]float64, aLineSize)
	table := make([]models.LinearizationUnit, aLineSize)
	for i := range table {
		table[i] = models.LinearizationUnit{SourceIndex: i, LeftWeight: 1}
	}
	c, err := New(background, table)
	if err != nil {
		return nil, err
	}
	c.source = "identity"
	return c, nil
}

// ALineSize returns the number of samples per A-line this calibration covers.
func (c *Calibration) ALineSize() int {
	return len(c.background)
}

// Background returns the background spectrum. Callers must not modify it.
func (c *Calibration) Background() []float64 {
	return c.background
}

// Table returns the linearization table. Callers must not modify it.
func (c *Calibration) Table() []models.LinearizationUnit {
	return c.table
}

// Source returns the directory the calibration was loaded from, if any.
func (c *Calibration) Source() string {
	return c.source
}

// LoadedAt returns when the calibration was created.
func (c *Calibration) LoadedAt() time.Time {
	return c.loadedAt
}

// LoadDir reads the background and phase files from dir.
func LoadDir(dir string, aLineSize int) (*Calibration, error) {
	background, err := readBackground(filepath.Join(dir, BackgroundFile), aLineSize)
	if err != nil {
		return nil, err
	}

	table, err := readTable(filepath.Join(dir, PhaseFile), aLineSize)
	if err != nil {
		return nil, err
	}

	c, err := New(background, table)
	if err != nil {
		return nil, fmt.Errorf("calibration in %s: %w", dir, err)
	}
	c.source = dir
	return c, nil
}

// SaveDir writes the calibration to dir in the format LoadDir reads,
// creating the directory if needed.
func (c *Calibration) SaveDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating calibration directory: %w", err)
	}

	err := writeFile(filepath.Join(dir, BackgroundFile), func(w io.Writer) error {
		for _, v := range c.background {
			if _, err := fmt.Fprintln(w, strconv.FormatFloat(v, 'g', -1, 64)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return writeFile(filepath.Join(dir, PhaseFile), func(w io.Writer) error {
		for _, u := range c.table {
			_, err := fmt.Fprintf(w, "%d %s %s\n", u.SourceIndex,
				strconv.FormatFloat(u.LeftWeight, 'g', -1, 64),
				strconv.FormatFloat(u.RightWeight, 'g', -1, 64))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// SnapshotDir returns a timestamped calibration directory name under root.
func SnapshotDir(root string, t time.Time) string {
	return filepath.Join(root, "OCTcalib "+t.Format("20060102150405"))
}

func readBackground(path string, n int) ([]float64, error) {
	values := make([]float64, 0, n)
	err := scanWords(path, func(word string) error {
		v, err := strconv.ParseFloat(word, 64)
		if err != nil {
			return err
		}
		values = append(values, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(values) != n {
		return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrSizeMismatch, path, len(values), n)
	}
	return values, nil
}

func readTable(path string, n int) ([]models.LinearizationUnit, error) {
	table := make([]models.LinearizationUnit, 0, n)
	var cur models.LinearizationUnit
	field := 0

	err := scanWords(path, func(word string) error {
		switch field {
		case 0:
			idx, err := parseIndex(word)
			if err != nil {
				return err
			}
			cur.SourceIndex = idx
		case 1:
			v, err := strconv.ParseFloat(word, 64)
			if err != nil {
				return err
			}
			cur.LeftWeight = v
		case 2:
			v, err := strconv.ParseFloat(word, 64)
			if err != nil {
				return err
			}
			cur.RightWeight = v
			table = append(table, cur)
		}
		field = (field + 1) % 3
		return nil
	})
	if err != nil {
		return nil, err
	}
	if field != 0 {
		return nil, fmt.Errorf("%w: %s ends with an incomplete entry", ErrSizeMismatch, path)
	}
	if len(table) != n {
		return nil, fmt.Errorf("%w: %s has %d entries, want %d", ErrSizeMismatch, path, len(table), n)
	}
	return table, nil
}

// parseIndex accepts integer indices written either as "12" or "12.0"
func parseIndex(word string) (int, error) {
	if idx, err := strconv.Atoi(word); err == nil {
		return idx, nil
	}
	v, err := strconv.ParseFloat(word, 64)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: source index %q is not an integer", ErrInvalidTable, word)
	}
	return int(v), nil
}

func scanWords(path string, fn func(string) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening calibration file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Split(bufio.ScanWords)
	count := 0
	for scanner.Scan() {
		count++
		if err := fn(scanner.Text()); err != nil {
			return fmt.Errorf("%s: value %d: %w", path, count, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating calibration file: %w", err)
	}
	w := bufio.NewWriter(file)
	if err := fn(w); err != nil {
		file.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return file.Close()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
