package sample

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/gpustats/internal/compute"
)

const weatherRecords = `Lincoln 2013 01 01 0000 -3.7
Lincoln 2013 01 01 0100 -3.2

Lincoln 2013 01 01 0200 4.1
Lincoln 2013 01 01 0300 12
`

func TestParse_LastField(t *testing.T) {
	got, err := Collect(Parse[float32](strings.NewReader(weatherRecords)))
	require.NoError(t, err)
	assert.Equal(t, []float32{-3.7, -3.2, 4.1, 12}, got)
}

func TestParse_Int32Truncates(t *testing.T) {
	got, err := Collect(Parse[int32](strings.NewReader(weatherRecords)))
	require.NoError(t, err)
	assert.Equal(t, []int32{-3, -3, 4, 12}, got)
}

func TestParse_DataFormatError(t *testing.T) {
	in := "a 1\nb 2\nc two\nd 4\n"

	var got []float32
	var gotErr error
	for v, err := range Parse[float32](strings.NewReader(in)) {
		if err != nil {
			gotErr = err
			break
		}
		got = append(got, v)
	}

	assert.Equal(t, []float32{1, 2}, got)
	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, compute.ErrDataFormat)
	assert.ErrorIs(t, gotErr, strconv.ErrSyntax)

	var ferr *DataFormatError
	require.True(t, errors.As(gotErr, &ferr))
	assert.Equal(t, 3, ferr.Line)
	assert.Equal(t, "c two", ferr.Record)
	assert.True(t, ferr.Recoverable())
	assert.Equal(t, compute.CodeDataFormat, compute.Describe(gotErr))
}

func TestParse_SkipMalformed(t *testing.T) {
	in := "a 1\nc two\nd NaN\ne 1e60\nf 4\n"

	got, err := Collect(Parse[float32](strings.NewReader(in), SkipMalformed()))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 4}, got)
}

func TestParse_OutOfRange(t *testing.T) {
	_, err := Collect(Parse[int32](strings.NewReader("x 3000000000\n")))
	assert.ErrorIs(t, err, compute.ErrDataFormat)
	assert.ErrorIs(t, err, errOutOfRange)

	_, err = Collect(Parse[float32](strings.NewReader("x inf\n")))
	assert.ErrorIs(t, err, errNotFinite)
}

func TestParse_StopsWhenConsumerStops(t *testing.T) {
	seq := Parse[int32](strings.NewReader("1\n2\n3\n4\n"))

	var got []int32
	for v, err := range seq {
		require.NoError(t, err)
		got = append(got, v)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []int32{1, 2}, got)
}

func TestParse_OneShot(t *testing.T) {
	seq := Parse[int32](strings.NewReader("1\n2\n"))

	first, err := Collect(seq)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, first)

	second, err := Collect(seq)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temps.txt")
	require.NoError(t, os.WriteFile(path, []byte(weatherRecords), 0o600))

	got, err := ReadFile[float32](path)
	require.NoError(t, err)
	assert.Len(t, got, 4)

	_, err = ReadFile[float32](filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
