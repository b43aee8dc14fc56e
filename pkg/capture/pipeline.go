package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrSourceClosed is returned by NextFrame once the capture source has
// permanently closed and the cached frame, if any, has been drained.
// NextFrame never blocks forever on a dead source.
var ErrSourceClosed = errors.New("capture source closed")

// Pipeline owns a capture source and runs a producer loop on its own
// goroutine, keeping only the most recent frame for consumers.
type Pipeline struct {
	slot   *latestSlot
	logger *zap.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Start starts the source and begins the producer loop immediately; it never
// blocks the caller. The loop caches BGRA video frames and ends quietly on
// any other frame kind or a source error.
func Start(source Source, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := source.Start(); err != nil {
		return nil, fmt.Errorf("start capture source: %w", err)
	}
	pipeline := &Pipeline{
		slot:   newLatestSlot(),
		logger: logger,
	}
	go pipeline.produce(source)
	return pipeline, nil
}

// NextFrame takes and clears the cached frame, suspending until one arrives.
// It never returns a frame older than the most recent one observed at call
// time. No internal timeout is imposed; callers needing bounded latency pass
// a context with a deadline.
func (p *Pipeline) NextFrame(ctx context.Context) (*Frame, error) {
	return p.slot.take(ctx)
}

// Stats returns the number of frames published to the cache and the number
// dropped unconsumed.
func (p *Pipeline) Stats() (published uint64, dropped uint64) {
	return p.published.Load(), p.dropped.Load()
}

func (p *Pipeline) produce(source Source) {
	defer p.slot.close()
	for {
		raw, err := source.Next()
		if err != nil {
			p.logger.Debug("capture source ended", zap.Error(err))
			return
		}
		if raw.Kind != FrameVideo || raw.Format != PixelFormatBGRA {
			// Anything but BGRA video means the source changed underneath
			// us; the loop ends quietly.
			return
		}
		frame := &Frame{Width: raw.Width, Height: raw.Height, Data: raw.Data}
		if p.slot.put(frame) {
			p.dropped.Add(1)
		}
		p.published.Add(1)
	}
}
