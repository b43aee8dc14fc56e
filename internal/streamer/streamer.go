// Package streamer bridges the capture pipeline and a live Gemini session:
// one loop pushes screen frames up as conversation turns, another drains
// server events into a sink.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saker-ai/screen-watcher/internal/metrics"
	"github.com/saker-ai/screen-watcher/pkg/capture"
	"github.com/saker-ai/screen-watcher/pkg/gemini"
)

// DefaultPrompt is attached to every frame turn when no prompt is configured.
const DefaultPrompt = "What is the user doing in this screenshot?"

// FrameSource yields the most recent captured frame.
type FrameSource interface {
	NextFrame(ctx context.Context) (*capture.Frame, error)
}

// ContentSender delivers conversation turns to the model.
type ContentSender interface {
	SendClientContent(ctx context.Context, content gemini.ClientContent) error
}

// Options tunes the frame streaming loop.
type Options struct {
	// Prompt is the question sent alongside each frame. Defaults to
	// DefaultPrompt.
	Prompt string
	// JPEGQuality is passed through to the encoder. Out-of-range values fall
	// back to the encoder default.
	JPEGQuality int
	// MaxFrames stops the loop after that many frames were sent. Zero or
	// negative means unbounded.
	MaxFrames int
}

// Streamer repeatedly takes the latest frame, encodes it as JPEG, and sends
// it as a complete user turn.
type Streamer struct {
	source FrameSource
	sender ContentSender
	opts   Options
	logger *zap.Logger

	sent    atomic.Uint64
	skipped atomic.Uint64
}

// New creates a streamer over the given source and sender.
func New(source FrameSource, sender ContentSender, opts Options, logger *zap.Logger) *Streamer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	return &Streamer{
		source: source,
		sender: sender,
		opts:   opts,
		logger: logger,
	}
}

// Run drives the frame loop until the context ends, the source closes, the
// frame budget is exhausted, or a send fails. Frames that fail to encode are
// logged and skipped; the loop keeps going.
func (s *Streamer) Run(ctx context.Context) error {
	for {
		if max := s.opts.MaxFrames; max > 0 && s.sent.Load() >= uint64(max) {
			s.logger.Info("frame budget exhausted", zap.Int("max_frames", max))
			return nil
		}

		frame, err := s.source.NextFrame(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrSourceClosed) {
				s.logger.Info("capture source closed, stopping frame loop")
				return nil
			}
			return fmt.Errorf("next frame: %w", err)
		}

		data, err := capture.EncodeJPEG(frame.Data, frame.Width, frame.Height, s.opts.JPEGQuality)
		if err != nil {
			s.skipped.Add(1)
			metrics.RecordFrameSkipped()
			s.logger.Warn("skipping frame that failed to encode",
				zap.Uint32("width", frame.Width),
				zap.Uint32("height", frame.Height),
				zap.Error(err),
			)
			continue
		}

		blob := gemini.NewBlob("image/jpeg", data)
		content := gemini.ClientContent{
			Turns: []gemini.Content{{
				Role: "user",
				Parts: []gemini.Part{
					{InlineData: &blob},
					{Text: s.opts.Prompt},
				},
			}},
			TurnComplete: true,
		}
		if err := s.sender.SendClientContent(ctx, content); err != nil {
			if errors.Is(err, gemini.ErrConnectionClosed) || ctx.Err() != nil {
				return fmt.Errorf("send frame turn: %w", err)
			}
			// Lossy by design: a failed frame is dropped, the next one is
			// fresher anyway.
			s.skipped.Add(1)
			metrics.RecordFrameSkipped()
			s.logger.Warn("skipping frame that failed to send", zap.Error(err))
			continue
		}
		s.sent.Add(1)
		metrics.RecordFrameSent()
		s.logger.Debug("sent frame",
			zap.Uint32("width", frame.Width),
			zap.Uint32("height", frame.Height),
			zap.Int("jpeg_bytes", len(data)),
		)
	}
}

// Stats reports frames sent and frames skipped so far.
func (s *Streamer) Stats() (sent uint64, skipped uint64) {
	return s.sent.Load(), s.skipped.Load()
}
