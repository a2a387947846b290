// Package sample turns text records into a sample sequence. Only the last
// whitespace-delimited field of each record is used.
package sample

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/hyp3rd/ewrap"

	"github.com/born-ml/gpustats/internal/compute"
)

const maxRecordSize = 1 << 20

var (
	errOutOfRange = ewrap.New("value out of range for working type")
	errNotFinite  = ewrap.New("value is not finite")
)

// DataFormatError reports a record whose sample field cannot be parsed.
type DataFormatError struct {
	Line   int
	Record string
	Err    error
}

func (e *DataFormatError) Error() string {
	return fmt.Sprintf("sample: line %d: %q: %v", e.Line, e.Record, e.Err)
}

func (e *DataFormatError) Unwrap() []error {
	return []error{compute.ErrDataFormat, e.Err}
}

// Recoverable reports whether skipping the record leaves the rest of the
// input usable. Field-level parse failures are recoverable.
func (e *DataFormatError) Recoverable() bool {
	return true
}

type options struct {
	skipMalformed bool
	logger        *slog.Logger
}

// Option configures parsing.
type Option func(*options)

// SkipMalformed drops recoverable malformed records instead of stopping.
func SkipMalformed() Option {
	return func(o *options) { o.skipMalformed = true }
}

// WithLogger logs skipped records at warn level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Parse returns a lazy, finite, one-shot sequence of the samples in r. Blank
// lines are ignored. The sequence yields a *DataFormatError and stops at the
// first unparsable record unless SkipMalformed is set; I/O errors always stop
// it. Fields are parsed as floating point; integer working types truncate
// toward zero.
func Parse[T compute.Element](r io.Reader, opts ...Option) iter.Seq2[T, error] {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	return func(yield func(T, error) bool) {
		var zero T

		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

		line := 0
		for sc.Scan() {
			line++
			record := sc.Text()
			fields := strings.Fields(record)
			if len(fields) == 0 {
				continue
			}

			v, err := convert[T](fields[len(fields)-1])
			if err != nil {
				ferr := &DataFormatError{Line: line, Record: record, Err: err}
				if o.skipMalformed && ferr.Recoverable() {
					o.logger.Warn("skipping malformed record", "line", line, "error", err)
					continue
				}
				yield(zero, ferr)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(zero, fmt.Errorf("sample: reading line %d: %w", line+1, err))
		}
	}
}

func convert[T compute.Element](field string) (T, error) {
	var zero T
	f, err := strconv.ParseFloat(field, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			err = numErr.Err
		}
		return zero, err
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return zero, errNotFinite
	}
	switch any(zero).(type) {
	case int32:
		if f >= math.MaxInt32+1 || f <= math.MinInt32-1 {
			return zero, errOutOfRange
		}
	case float32:
		if math.Abs(f) > math.MaxFloat32 {
			return zero, errOutOfRange
		}
	}
	return T(f), nil
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T compute.Element](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadFile parses the file at path. The file is closed on every exit path.
func ReadFile[T compute.Element](path string, opts ...Option) (samples []T, err error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("sample: closing %s: %w", path, cerr)
		}
	}()

	return Collect(Parse[T](f, opts...))
}
