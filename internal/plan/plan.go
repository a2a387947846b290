// Package plan distributes a sample sequence over fixed-size work-groups.
package plan

import (
	"math/bits"

	"github.com/hyp3rd/ewrap"

	"github.com/born-ml/gpustats/internal/compute"
)

// DefaultGroupSize is the work-group size used when none is configured.
const DefaultGroupSize = 256

// Layout describes how Count elements map onto work-groups.
type Layout struct {
	Count     int // unpadded elements
	GroupSize int
	PaddedLen int // smallest multiple of GroupSize >= Count
	Groups    int
}

// Padding returns the number of neutral elements appended to the input.
func (l Layout) Padding() int {
	return l.PaddedLen - l.Count
}

// SingleGroup reports whether one work-group covers the whole input.
func (l Layout) SingleGroup() bool {
	return l.Groups == 1
}

// ValidateGroupSize checks that groupSize allows log2(groupSize) halving steps.
func ValidateGroupSize(groupSize int) error {
	if groupSize <= 0 || bits.OnesCount(uint(groupSize)) != 1 {
		return ewrap.Wrapf(compute.ErrInvalidGroupSize, "group size %d", groupSize)
	}
	return nil
}

// NewLayout computes the layout of count elements in groups of groupSize.
func NewLayout(count, groupSize int) (Layout, error) {
	if err := ValidateGroupSize(groupSize); err != nil {
		return Layout{}, err
	}
	if count <= 0 {
		return Layout{}, compute.ErrEmptySample
	}

	padded := count + PaddingFor(count, groupSize)
	return Layout{
		Count:     count,
		GroupSize: groupSize,
		PaddedLen: padded,
		Groups:    padded / groupSize,
	}, nil
}

// PaddingFor returns (groupSize - count%groupSize) % groupSize.
func PaddingFor(count, groupSize int) int {
	return (groupSize - count%groupSize) % groupSize
}

// Pad returns samples extended with zeros to a multiple of groupSize.
// The input slice is never modified; when no padding is needed it is
// returned as is.
func Pad[T compute.Element](samples []T, groupSize int) []T {
	n := PaddingFor(len(samples), groupSize)
	if n == 0 {
		return samples
	}
	out := make([]T, len(samples)+n)
	copy(out, samples)
	return out
}

// Levels returns the reduction schedule for count elements: level 0 reduces
// the input into per-group partials, and each further level reduces the
// previous level's partials, until a level runs exactly one group.
func Levels(count, groupSize int) ([]Layout, error) {
	first, err := NewLayout(count, groupSize)
	if err != nil {
		return nil, err
	}

	levels := []Layout{first}
	for last := first; last.Groups > 1; {
		// NewLayout cannot fail here: Groups > 1 and groupSize was validated.
		last, _ = NewLayout(last.Groups, groupSize)
		levels = append(levels, last)
	}
	return levels, nil
}
