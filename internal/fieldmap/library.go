package fieldmap

import (
	"path/filepath"
	"sync"
)

// Library loads field maps from a folder once and shares them. Fields are
// immutable, so the returned pointers may be used concurrently.
type Library struct {
	folder string

	mu    sync.Mutex
	cache map[string]*Field
}

func NewLibrary(folder string) *Library {
	return &Library{folder: folder, cache: make(map[string]*Field)}
}

// Get returns the field stored in file name, checked against length.
func (l *Library) Get(name string, length float64) (*Field, error) {
	path := name
	if !filepath.IsAbs(path) && l.folder != "" {
		path = filepath.Join(l.folder, name)
	}
	if filepath.Ext(path) == "" {
		path += ".edz"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if f, ok := l.cache[path]; ok {
		if length > 0 && abs(f.ZMax-length) > LengthTolerance*length {
			return nil, &FormatError{Path: path, Reason: "field map shared by elements of different lengths"}
		}
		return f, nil
	}
	f, err := Load(path, length)
	if err != nil {
		return nil, err
	}
	l.cache[path] = f
	return f, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
