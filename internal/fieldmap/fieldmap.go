// Package fieldmap loads 1D on-axis electric field maps (.edz) and evaluates
// the accelerating field seen by the synchronous particle.
package fieldmap

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/san-kum/linacsim/internal/config"
)

var log = config.NamedLogger("fieldmap")

// LengthTolerance is the relative tolerance between the declared mesh
// length and the physical length of the cavity.
const LengthTolerance = 1e-6

// FormatError is returned when a field map file is malformed.
type FormatError struct {
	Path   string
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("field map %s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("field map %s: %s", e.Path, e.Reason)
}

// Field is an immutable field profile sampled on a regular mesh.
type Field struct {
	Path  string
	NZ    int
	ZMax  float64
	Norm  float64
	NCell int

	samples []float64
	dz      float64
}

// Load reads an .edz file. When length is positive, the declared mesh length
// must match it within LengthTolerance.
func Load(path string, length float64) (*Field, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FormatError{Path: path, Reason: err.Error()}
	}
	defer f.Close()
	return Parse(f, path, length)
}

// Parse reads an .edz stream: line 1 "n_z zmax", line 2 the normalisation
// constant, then n_z+1 field samples in MV/m.
func Parse(r io.Reader, path string, length float64) (*Field, error) {
	sc := bufio.NewScanner(r)
	fld := &Field{Path: path}
	line := 0
	var raw []float64

	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		switch line {
		case 1:
			tokens := strings.Fields(text)
			if len(tokens) < 2 {
				return nil, &FormatError{Path: path, Line: line, Reason: fmt.Sprintf("header %q needs n_z and zmax", text)}
			}
			nz, err := strconv.Atoi(tokens[0])
			if err != nil || nz < 1 {
				return nil, &FormatError{Path: path, Line: line, Reason: fmt.Sprintf("invalid n_z %q", tokens[0])}
			}
			zmax, err := strconv.ParseFloat(tokens[len(tokens)-1], 64)
			if err != nil || !(zmax > 0) {
				return nil, &FormatError{Path: path, Line: line, Reason: fmt.Sprintf("invalid zmax %q", tokens[len(tokens)-1])}
			}
			fld.NZ, fld.ZMax = nz, zmax
		case 2:
			norm, err := strconv.ParseFloat(text, 64)
			if err != nil || norm == 0 {
				return nil, &FormatError{Path: path, Line: line, Reason: fmt.Sprintf("invalid normalisation %q", text)}
			}
			fld.Norm = norm
		default:
			if text == "" {
				continue
			}
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, &FormatError{Path: path, Line: line, Reason: fmt.Sprintf("invalid field sample %q", text)}
			}
			raw = append(raw, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &FormatError{Path: path, Line: line, Reason: err.Error()}
	}
	if line < 2 {
		return nil, &FormatError{Path: path, Line: line, Reason: "truncated header"}
	}
	if len(raw) != fld.NZ+1 {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("expected %d field samples, got %d", fld.NZ+1, len(raw))}
	}
	if length > 0 && math.Abs(fld.ZMax-length) > LengthTolerance*length {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("mesh length %g m does not match element length %g m", fld.ZMax, length)}
	}
	if fld.Norm != 1. {
		log.WithField("path", path).Warnf("normalisation constant is %g, fields are divided by it", fld.Norm)
	}

	fld.samples = make([]float64, len(raw))
	for i, v := range raw {
		fld.samples[i] = v / fld.Norm
	}
	fld.dz = fld.ZMax / float64(fld.NZ)
	fld.NCell = CountCells(fld.samples)
	return fld, nil
}

// New builds a field directly from samples on [0, zmax].
func New(samples []float64, zmax float64) (*Field, error) {
	if len(samples) < 2 || !(zmax > 0) {
		return nil, &FormatError{Path: "<memory>", Reason: "at least two samples and a positive length are required"}
	}
	s := make([]float64, len(samples))
	copy(s, samples)
	return &Field{
		Path:    "<memory>",
		NZ:      len(s) - 1,
		ZMax:    zmax,
		Norm:    1.,
		NCell:   CountCells(s),
		samples: s,
		dz:      zmax / float64(len(s)-1),
	}, nil
}

// CountCells counts the runs of consecutive samples sharing the same
// "strictly positive" flag.
func CountCells(samples []float64) int {
	if len(samples) == 0 {
		return 0
	}
	n := 1
	prev := samples[0] > 0
	for _, v := range samples[1:] {
		if cur := v > 0; cur != prev {
			n++
			prev = cur
		}
	}
	return n
}

// E returns the interpolated on-axis field in MV/m, 0 outside [0, ZMax].
func (f *Field) E(z float64) float64 {
	if z < 0 || z > f.ZMax {
		return 0.
	}
	x := z / f.dz
	i := int(x)
	if i >= f.NZ {
		return f.samples[f.NZ]
	}
	frac := x - float64(i)
	return f.samples[i] + frac*(f.samples[i+1]-f.samples[i])
}

func (f *Field) Length() float64 { return f.ZMax }

// Samples returns a copy of the normalised samples.
func (f *Field) Samples() []float64 {
	out := make([]float64, len(f.samples))
	copy(out, f.samples)
	return out
}
