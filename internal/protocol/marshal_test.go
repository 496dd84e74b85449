package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToComputeScalar(t *testing.T) {
	v, err := ToCompute(3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = ToCompute(2.5)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
}

func TestToComputeBoolPassesThrough(t *testing.T) {
	v, err := ToCompute(true)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestToComputeEmptySequence(t *testing.T) {
	v, err := ToCompute([]any{})
	require.NoError(t, err)
	m, ok := v.(Matrix)
	require.True(t, ok)
	assert.Equal(t, 0, m.Rows)
	assert.Equal(t, 0, m.Cols)
}

func TestToCompute1DSequence(t *testing.T) {
	v, err := ToCompute([]any{1.0, 2.0, 3.0})
	require.NoError(t, err)
	m, ok := v.(Matrix)
	require.True(t, ok)
	assert.Equal(t, 1, m.Rows)
	assert.Equal(t, 3, m.Cols)
	assert.Equal(t, []float64{1, 2, 3}, m.Data[0])
}

func TestToCompute2DSequence(t *testing.T) {
	v, err := ToCompute([]any{
		[]any{1.0, 2.0},
		[]any{3.0, 4.0},
	})
	require.NoError(t, err)
	m, ok := v.(Matrix)
	require.True(t, ok)
	assert.Equal(t, 2, m.Rows)
	assert.Equal(t, 2, m.Cols)
}

func TestToCompute2DSequenceRejectsRaggedRows(t *testing.T) {
	_, err := ToCompute([]any{
		[]any{1.0, 2.0},
		[]any{3.0},
	})
	assert.Error(t, err)
}

func TestFromCompute1x1ReturnsScalar(t *testing.T) {
	v := FromCompute(Matrix{Rows: 1, Cols: 1, Data: [][]float64{{5}}})
	assert.Equal(t, 5.0, v)
}

func TestFromCompute1xNReturnsSequence(t *testing.T) {
	v := FromCompute(Matrix{Rows: 1, Cols: 3, Data: [][]float64{{1, 2, 3}}})
	assert.Equal(t, []float64{1, 2, 3}, v)
}

func TestFromComputeNx1ReturnsSequence(t *testing.T) {
	v := FromCompute(Matrix{Rows: 3, Cols: 1, Data: [][]float64{{1}, {2}, {3}}})
	assert.Equal(t, []float64{1, 2, 3}, v)
}

func TestFromComputeNxMReturnsSequenceOfSequences(t *testing.T) {
	v := FromCompute(Matrix{Rows: 2, Cols: 2, Data: [][]float64{{1, 2}, {3, 4}}})
	out, ok := v.([][]float64)
	require.True(t, ok)
	assert.Equal(t, 2, len(out))
}

func TestMarshalRoundTrip(t *testing.T) {
	original := []any{1.0, 2.0, 3.0}
	marshaled, err := ToCompute(original)
	require.NoError(t, err)
	m := marshaled.(Matrix)
	back := FromCompute(m)
	assert.Equal(t, []float64{1, 2, 3}, back)
}
