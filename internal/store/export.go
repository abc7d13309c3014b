// Package store exports stored runs to files other tools read: JSON for
// scripts, XLSX workbooks for spreadsheets.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/san-kum/linacsim/internal/storage"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format: %s", s)
}

// Export writes r to path in format. An empty format is guessed from the
// extension of path.
func Export(path string, format Format, r *storage.Record) error {
	if format == "" {
		var err error
		if format, err = ParseFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err != nil {
			return err
		}
	}
	switch format {
	case FormatJSON:
		return ExportJSONFile(path, r)
	case FormatXLSX:
		return ExportXLSX(path, r)
	}
	return fmt.Errorf("unknown export format: %s", format)
}

func ExportJSON(w io.Writer, r *storage.Record) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

func ExportJSONFile(path string, r *storage.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := ExportJSON(file, r); err != nil {
		return err
	}
	return file.Close()
}
