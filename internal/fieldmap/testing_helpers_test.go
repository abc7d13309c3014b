package fieldmap

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeSine writes an n-cell sine field of length zmax with nz steps.
func writeSine(t *testing.T, dir, name string, nz int, zmax float64, nCell int, norm float64) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "%d %g\n%g\n", nz, zmax, norm)
	for i := 0; i <= nz; i++ {
		z := zmax * float64(i) / float64(nz)
		fmt.Fprintf(&b, "%.12g\n", 10.*math.Sin(float64(nCell)*math.Pi*z/zmax))
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
