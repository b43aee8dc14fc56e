package streamer

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/screen-watcher/pkg/gemini"
)

// Sink consumes the interesting slices of the server event stream. Methods
// are called from the receiver goroutine only.
type Sink interface {
	// Text receives one streamed text chunk from the model turn.
	Text(chunk string)
	// TurnComplete marks the end of a model turn.
	TurnComplete()
	// Interrupted marks a model turn cut short by new input.
	Interrupted()
	// Usage receives token accounting when the server attaches it.
	Usage(usage *gemini.UsageMetadata)
	// ServerError receives a non-fatal in-band error from the service.
	ServerError(errResp *gemini.ErrorResponse)
}

// ConsoleSink streams model text to a writer as it arrives, finishing each
// turn with a newline.
type ConsoleSink struct {
	mu      sync.Mutex
	w       io.Writer
	midTurn bool
}

// NewConsoleSink wraps the writer, typically os.Stdout.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func (s *ConsoleSink) Text(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, chunk)
	s.midTurn = true
}

func (s *ConsoleSink) TurnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.midTurn {
		fmt.Fprintln(s.w)
		s.midTurn = false
	}
}

func (s *ConsoleSink) Interrupted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.midTurn {
		fmt.Fprintln(s.w, " [interrupted]")
		s.midTurn = false
	}
}

func (s *ConsoleSink) Usage(usage *gemini.UsageMetadata) {}

func (s *ConsoleSink) ServerError(errResp *gemini.ErrorResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.midTurn {
		fmt.Fprintln(s.w)
		s.midTurn = false
	}
	fmt.Fprintf(s.w, "server error: %s\n", errResp.String())
}

// LogSink routes the event stream into structured logs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink over the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Text(chunk string) {
	s.logger.Info("model text", zap.String("chunk", chunk))
}

func (s *LogSink) TurnComplete() {
	s.logger.Debug("model turn complete")
}

func (s *LogSink) Interrupted() {
	s.logger.Debug("model turn interrupted")
}

func (s *LogSink) Usage(usage *gemini.UsageMetadata) {
	s.logger.Debug("usage metadata",
		zap.Int("prompt_tokens", usage.PromptTokenCount),
		zap.Int("response_tokens", usage.ResponseTokenCount),
		zap.Int("total_tokens", usage.TotalTokenCount),
	)
}

func (s *LogSink) ServerError(errResp *gemini.ErrorResponse) {
	s.logger.Error("server reported error", zap.String("error", errResp.String()))
}
