package streamer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/saker-ai/screen-watcher/internal/metrics"
	"github.com/saker-ai/screen-watcher/pkg/gemini"
)

// EventSource yields classified server events. Session satisfies this.
type EventSource interface {
	Recv() (*gemini.ServerEvent, error)
}

// ToolResponder answers tool calls. Session and Sender satisfy this.
type ToolResponder interface {
	SendToolResponse(ctx context.Context, response gemini.ToolResponse) error
}

// Receiver drains the inbound event stream, feeding model output to a sink
// and acknowledging tool calls. This watcher registers no tools, so every
// call is answered with an unsupported marker to keep the turn moving.
type Receiver struct {
	source    EventSource
	responder ToolResponder
	sink      Sink
	logger    *zap.Logger
}

// NewReceiver creates a receiver over the given event source.
func NewReceiver(source EventSource, responder ToolResponder, sink Sink, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &Receiver{
		source:    source,
		responder: responder,
		sink:      sink,
		logger:    logger,
	}
}

// Run consumes events until the stream ends. A graceful end returns nil; an
// abnormal server close or a decode failure returns the error. Run owns the
// inbound half; do not call Recv elsewhere while it is running.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		event, err := r.source.Recv()
		if err != nil {
			var closedErr *gemini.ServerClosedError
			if errors.As(err, &closedErr) {
				r.logger.Warn("server closed session",
					zap.Int("code", closedErr.Code),
					zap.String("reason", closedErr.Reason),
				)
			}
			return fmt.Errorf("receive server event: %w", err)
		}
		if event == nil {
			r.logger.Info("server event stream ended")
			return nil
		}

		metrics.RecordServerEvent(string(event.Kind))
		if event.Usage != nil {
			r.sink.Usage(event.Usage)
		}
		r.dispatch(ctx, event)
	}
}

func (r *Receiver) dispatch(ctx context.Context, event *gemini.ServerEvent) {
	switch event.Kind {
	case gemini.EventServerContent:
		r.handleContent(event.Content)
	case gemini.EventToolCall:
		r.handleToolCall(ctx, event.ToolCall)
	case gemini.EventToolCallCancellation:
		r.logger.Info("tool calls cancelled", zap.Strings("ids", event.Cancellation.IDs))
	case gemini.EventGoAway:
		r.logger.Warn("server announced disconnect", zap.String("time_left", event.GoAway.TimeLeft))
	case gemini.EventSessionResumptionUpdate:
		r.logger.Info("session resumption update",
			zap.String("handle", event.Resumption.NewHandle),
			zap.Bool("resumable", event.Resumption.Resumable),
		)
	case gemini.EventError:
		r.sink.ServerError(event.Err)
	case gemini.EventSetupComplete:
		// Already consumed during the handshake; a duplicate is harmless.
		r.logger.Debug("duplicate setup acknowledgment")
	default:
		r.logger.Debug("unhandled server event", zap.String("kind", string(event.Kind)))
	}
}

func (r *Receiver) handleContent(content *gemini.ServerContent) {
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.Text != "" {
				r.sink.Text(part.Text)
			}
		}
	}
	if content.Interrupted {
		r.sink.Interrupted()
		return
	}
	if content.TurnComplete {
		r.sink.TurnComplete()
	}
}

func (r *Receiver) handleToolCall(ctx context.Context, call *gemini.ToolCall) {
	if r.responder == nil || len(call.FunctionCalls) == 0 {
		return
	}
	responses := make([]gemini.FunctionResponse, 0, len(call.FunctionCalls))
	for _, fc := range call.FunctionCalls {
		r.logger.Info("answering unsupported tool call",
			zap.String("id", fc.ID),
			zap.String("name", fc.Name),
		)
		responses = append(responses, gemini.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: json.RawMessage(`{"error":"tool not supported"}`),
		})
	}
	if err := r.responder.SendToolResponse(ctx, gemini.ToolResponse{FunctionResponses: responses}); err != nil {
		r.logger.Warn("failed to answer tool call", zap.Error(err))
	}
}
