/*
Package chain provides the block-height clock consumed by the cover engine.

PURPOSE:
  The engine never reads wall-clock time. Every operation is keyed on a
  block height supplied by the caller; this package is where callers get
  it from.

KEY TYPES:
  Clock:    Read-only view of the current height
  Manual:   Monotonic in-process clock, advanced explicitly
  Producer: Background ticker that advances a Manual clock (producer.go)

MONOTONICITY:
  Height never decreases. Set rejects a lower value with ErrHeightRegression
  and Advance rejects a step past the largest height with ErrHeightOverflow.
*/
package chain

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/warp/parametric-cover/cover"
)

var (
	ErrHeightRegression = errors.New("block height cannot decrease")
	ErrHeightOverflow   = errors.New("block height overflow")
)

// Clock reports the current block height.
type Clock interface {
	Height() cover.BlockHeight
}

// Manual is a monotonic clock safe for concurrent use.
type Manual struct {
	height atomic.Uint64
}

func NewManual(start cover.BlockHeight) *Manual {
	m := &Manual{}
	m.height.Store(uint64(start))
	return m
}

func (m *Manual) Height() cover.BlockHeight {
	return cover.BlockHeight(m.height.Load())
}

// Advance moves the clock forward by n blocks and returns the new height.
// On overflow the clock is left unchanged.
func (m *Manual) Advance(n uint64) (cover.BlockHeight, error) {
	for {
		cur := m.height.Load()
		if n > math.MaxUint64-cur {
			return cover.BlockHeight(cur), fmt.Errorf("%w: %d + %d", ErrHeightOverflow, cur, n)
		}
		if m.height.CompareAndSwap(cur, cur+n) {
			return cover.BlockHeight(cur + n), nil
		}
	}
}

// Set moves the clock to h. Setting the current height is a no-op.
func (m *Manual) Set(h cover.BlockHeight) error {
	for {
		cur := m.height.Load()
		if uint64(h) < cur {
			return fmt.Errorf("%w: %d < %d", ErrHeightRegression, h, cur)
		}
		if m.height.CompareAndSwap(cur, uint64(h)) {
			return nil
		}
	}
}
