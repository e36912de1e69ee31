/*
producer.go - Background block producer

PURPOSE:
  Advances a Manual clock by one block per interval so a standalone
  deployment has a moving block height without an external chain.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Checkpoints the height after every block when a Checkpointer is set,
    so a restart resumes from the last height instead of block 0
  - A failed checkpoint is logged and retried on the next block

USAGE:
  p := chain.NewProducer(clock, store, logger)
  p.Interval = 10 * time.Second
  p.Start()
  // ... later
  p.Stop()
*/
package chain

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/parametric-cover/cover"
)

// Checkpointer persists the latest height.
type Checkpointer interface {
	SaveHeight(ctx context.Context, height cover.BlockHeight) error
}

type Producer struct {
	Clock      *Manual
	Checkpoint Checkpointer // optional
	Interval   time.Duration

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewProducer(clock *Manual, checkpoint Checkpointer, log zerolog.Logger) *Producer {
	return &Producer{
		Clock:      clock,
		Checkpoint: checkpoint,
		Interval:   10 * time.Second,
		log:        log.With().Str("component", "producer").Logger(),
	}
}

// Start begins producing blocks. Calling Start twice is a no-op.
func (p *Producer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker != nil {
		return
	}
	p.ticker = time.NewTicker(p.Interval)
	p.stop = make(chan struct{})
	p.wg.Add(1)

	go p.run(p.ticker, p.stop)

	p.log.Info().Dur("interval", p.Interval).Uint64("height", uint64(p.Clock.Height())).Msg("block producer started")
}

// Stop halts the producer and waits for the goroutine to exit.
func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	close(p.stop)
	p.wg.Wait()
	p.ticker = nil
	p.log.Info().Uint64("height", uint64(p.Clock.Height())).Msg("block producer stopped")
}

func (p *Producer) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer p.wg.Done()

	for {
		select {
		case <-ticker.C:
			p.Produce(context.Background())
		case <-stop:
			return
		}
	}
}

// Produce advances the clock by one block and checkpoints it.
func (p *Producer) Produce(ctx context.Context) cover.BlockHeight {
	h, err := p.Clock.Advance(1)
	if err != nil {
		p.log.Error().Err(err).Msg("block not produced")
		return h
	}
	if p.Checkpoint != nil {
		if err := p.Checkpoint.SaveHeight(ctx, h); err != nil {
			p.log.Error().Err(err).Uint64("height", uint64(h)).Msg("checkpoint failed")
		}
	}
	p.log.Debug().Uint64("height", uint64(h)).Msg("block produced")
	return h
}
