package storage

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

const CurrentSchemaVersion = 1

var ErrVersionMismatch = errors.New("record version mismatch")

// Float is a float64 that survives JSON: NaN and infinities are written as
// null and read back as NaN.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func Floats(v []float64) []Float {
	if v == nil {
		return nil
	}
	out := make([]Float, len(v))
	for i, x := range v {
		out[i] = Float(x)
	}
	return out
}

func Float64s(v []Float) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func EncodeRecord(r *Record) ([]byte, error) {
	r.Meta.SchemaVersion = CurrentSchemaVersion
	return json.Marshal(r)
}

func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if err := checkVersion(r.Meta.SchemaVersion); err != nil {
		return nil, err
	}
	return &r, nil
}

func checkVersion(v int) error {
	if v != CurrentSchemaVersion {
		return ErrVersionMismatch
	}
	return nil
}
