package chain

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/parametric-cover/cover"
)

func TestManual_AdvanceAndSet(t *testing.T) {
	c := NewManual(100)
	assert.Equal(t, cover.BlockHeight(100), c.Height())

	h, err := c.Advance(1)
	require.NoError(t, err)
	assert.Equal(t, cover.BlockHeight(101), h)
	h, err = c.Advance(4320)
	require.NoError(t, err)
	assert.Equal(t, cover.BlockHeight(4421), h)

	require.NoError(t, c.Set(4421))
	require.NoError(t, c.Set(5000))
	assert.Equal(t, cover.BlockHeight(5000), c.Height())

	err = c.Set(4999)
	assert.ErrorIs(t, err, ErrHeightRegression)
	assert.Equal(t, cover.BlockHeight(5000), c.Height())
}

func TestManual_ConcurrentAdvance(t *testing.T) {
	c := NewManual(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := c.Advance(1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, cover.BlockHeight(5000), c.Height())
}

func TestManual_AdvanceNeverWraps(t *testing.T) {
	// GIVEN: A clock at 5000
	// WHEN: Advancing by a count that would wrap around 2^64
	// THEN: ErrHeightOverflow and the height is unchanged

	c := NewManual(5000)

	for _, n := range []uint64{math.MaxUint64, math.MaxUint64 - 4999, math.MaxUint64 - 4000} {
		h, err := c.Advance(n)
		assert.ErrorIs(t, err, ErrHeightOverflow)
		assert.Equal(t, cover.BlockHeight(5000), h)
		assert.Equal(t, cover.BlockHeight(5000), c.Height())
	}

	// Landing exactly on the largest height is allowed, one more is not.
	h, err := c.Advance(math.MaxUint64 - 5000)
	require.NoError(t, err)
	assert.Equal(t, cover.BlockHeight(math.MaxUint64), h)

	_, err = c.Advance(1)
	assert.ErrorIs(t, err, ErrHeightOverflow)
	assert.Equal(t, cover.BlockHeight(math.MaxUint64), c.Height())

	h, err = c.Advance(0)
	require.NoError(t, err)
	assert.Equal(t, cover.BlockHeight(math.MaxUint64), h)
}

type recordingCheckpointer struct {
	mu      sync.Mutex
	heights []cover.BlockHeight
	err     error
}

func (r *recordingCheckpointer) SaveHeight(_ context.Context, h cover.BlockHeight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heights = append(r.heights, h)
	return r.err
}

func (r *recordingCheckpointer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.heights)
}

func TestProducer_ProduceCheckpoints(t *testing.T) {
	cp := &recordingCheckpointer{}
	p := NewProducer(NewManual(10), cp, zerolog.Nop())

	assert.Equal(t, cover.BlockHeight(11), p.Produce(context.Background()))
	assert.Equal(t, cover.BlockHeight(12), p.Produce(context.Background()))
	assert.Equal(t, []cover.BlockHeight{11, 12}, cp.heights)
}

func TestProducer_CheckpointFailureDoesNotStopClock(t *testing.T) {
	cp := &recordingCheckpointer{err: errors.New("disk full")}
	clock := NewManual(0)
	p := NewProducer(clock, cp, zerolog.Nop())

	p.Produce(context.Background())
	p.Produce(context.Background())
	assert.Equal(t, cover.BlockHeight(2), clock.Height())
}

func TestProducer_AtMaxHeightStops(t *testing.T) {
	cp := &recordingCheckpointer{}
	clock := NewManual(math.MaxUint64)
	p := NewProducer(clock, cp, zerolog.Nop())

	assert.Equal(t, cover.BlockHeight(math.MaxUint64), p.Produce(context.Background()))
	assert.Equal(t, cover.BlockHeight(math.MaxUint64), clock.Height())
	assert.Empty(t, cp.heights)
}

func TestProducer_StartStop(t *testing.T) {
	cp := &recordingCheckpointer{}
	clock := NewManual(0)
	p := NewProducer(clock, cp, zerolog.Nop())
	p.Interval = 5 * time.Millisecond

	p.Start()
	p.Start()

	require.Eventually(t, func() bool { return cp.count() >= 3 }, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()

	stopped := clock.Height()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, clock.Height(), "no blocks after Stop")
}
