package protocol

import "fmt"

// Matrix is the bridge's canonical on-the-wire numeric shape: a
// rectangular N×M array of float64, matching the IEEE-754 double the
// compute kernel expects for every scalar, vector or matrix input
// (spec.md §4.8).
type Matrix struct {
	Rows int
	Cols int
	Data [][]float64
}

// ToCompute demarshals an arbitrary Go value coming from the wire
// (decoded YAML/JSON) into the shape the compute kernel invoke() call
// expects, following the marshalling rules in spec.md §4.8:
//   - scalar int/float -> float64
//   - empty sequence -> empty Matrix
//   - 1-D sequence -> 1xN Matrix
//   - 2-D sequence (equal-length rows) -> NxM Matrix
//   - bool -> bool, unchanged
//   - anything else -> unchanged, for the kernel to reject
func ToCompute(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case []any:
		return sequenceToMatrix(val)
	default:
		return v, nil
	}
}

func sequenceToMatrix(seq []any) (any, error) {
	if len(seq) == 0 {
		return Matrix{Rows: 0, Cols: 0}, nil
	}

	if _, ok := seq[0].([]any); ok {
		rows := make([][]float64, len(seq))
		width := -1
		for i, rawRow := range seq {
			row, ok := rawRow.([]any)
			if !ok {
				return nil, fmt.Errorf("row %d is not a sequence", i)
			}
			if width == -1 {
				width = len(row)
			} else if len(row) != width {
				return nil, fmt.Errorf("row %d has length %d, want %d", i, len(row), width)
			}
			converted := make([]float64, len(row))
			for j, cell := range row {
				f, err := toFloat(cell)
				if err != nil {
					return nil, fmt.Errorf("row %d col %d: %w", i, j, err)
				}
				converted[j] = f
			}
			rows[i] = converted
		}
		return Matrix{Rows: len(rows), Cols: width, Data: rows}, nil
	}

	row := make([]float64, len(seq))
	for i, cell := range seq {
		f, err := toFloat(cell)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		row[i] = f
	}
	return Matrix{Rows: 1, Cols: len(row), Data: [][]float64{row}}, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

// FromCompute demarshals a Matrix produced by the compute kernel back
// into the plain-Go shape a client expects on the wire, per spec.md
// §4.8:
//   - 1x1 -> scalar float64
//   - 1xN or Nx1 -> []float64
//   - NxM (both > 1) -> [][]float64
func FromCompute(m Matrix) any {
	if m.Rows == 1 && m.Cols == 1 {
		if len(m.Data) == 1 && len(m.Data[0]) == 1 {
			return m.Data[0][0]
		}
		return 0.0
	}
	if m.Rows == 1 {
		return append([]float64(nil), m.Data[0]...)
	}
	if m.Cols == 1 {
		col := make([]float64, m.Rows)
		for i, row := range m.Data {
			col[i] = row[0]
		}
		return col
	}
	out := make([][]float64, len(m.Data))
	for i, row := range m.Data {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
