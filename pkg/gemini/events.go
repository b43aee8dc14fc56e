package gemini

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies which variant of the server event a decoded message
// represents.
type EventKind string

const (
	EventSetupComplete           EventKind = "setupComplete"
	EventServerContent           EventKind = "serverContent"
	EventToolCall                EventKind = "toolCall"
	EventToolCallCancellation    EventKind = "toolCallCancellation"
	EventGoAway                  EventKind = "goAway"
	EventSessionResumptionUpdate EventKind = "sessionResumptionUpdate"
	EventError                   EventKind = "error"
	EventUnknown                 EventKind = "unknown"
)

// eventKindKeys is the fixed, ordered set of known event-kind keys probed by
// the classifier. The error key is handled separately and takes priority.
var eventKindKeys = []EventKind{
	EventSetupComplete,
	EventServerContent,
	EventToolCall,
	EventToolCallCancellation,
	EventGoAway,
	EventSessionResumptionUpdate,
}

// ServerEvent is a classified inbound message. Kind names the active
// variant; only the matching payload field is non-nil. Usage is present on
// any kind when the server attached usage metadata.
type ServerEvent struct {
	Kind         EventKind
	Usage        *UsageMetadata
	Content      *ServerContent
	ToolCall     *ToolCall
	Cancellation *ToolCallCancellation
	GoAway       *GoAway
	Resumption   *SessionResumptionUpdate
	Err          *ErrorResponse

	// Raw holds the remaining object for EventUnknown, kept for forward
	// compatibility with event kinds this client does not know yet.
	Raw json.RawMessage
}

// ParseServerEvent classifies a decoded wire message into exactly one typed
// server event.
//
// Rules, in order: usageMetadata is detached first and attached to whatever
// event results; an error key classifies as EventError regardless of other
// fields; zero known keys classify as EventUnknown carrying the remaining
// object; more than one known key is a protocol violation naming every
// matched key.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return nil, &UnexpectedMessageError{Raw: data}
	}
	if object == nil {
		return nil, &UnexpectedMessageError{Raw: data}
	}

	event := &ServerEvent{}
	if raw, ok := object["usageMetadata"]; ok {
		usage := &UsageMetadata{}
		if err := json.Unmarshal(raw, usage); err != nil {
			return nil, fmt.Errorf("decode usageMetadata: %w", err)
		}
		event.Usage = usage
		delete(object, "usageMetadata")
	}

	if raw, ok := object["error"]; ok {
		errResp := &ErrorResponse{}
		if err := json.Unmarshal(raw, errResp); err != nil {
			return nil, fmt.Errorf("decode error payload: %w", err)
		}
		event.Kind = EventError
		event.Err = errResp
		return event, nil
	}

	var matched []string
	for _, key := range eventKindKeys {
		if _, ok := object[string(key)]; ok {
			matched = append(matched, string(key))
		}
	}
	if len(matched) > 1 {
		return nil, &MultipleEventKindsError{Keys: matched}
	}
	if len(matched) == 0 {
		raw, err := json.Marshal(object)
		if err != nil {
			return nil, err
		}
		event.Kind = EventUnknown
		event.Raw = raw
		return event, nil
	}

	kind := EventKind(matched[0])
	payload := object[string(kind)]
	event.Kind = kind

	switch kind {
	case EventSetupComplete:
		// Payload is an empty object; nothing to decode beyond validity.
		var ack SetupComplete
		if err := json.Unmarshal(payload, &ack); err != nil {
			return nil, fmt.Errorf("decode setupComplete: %w", err)
		}
	case EventServerContent:
		content := &ServerContent{}
		if err := json.Unmarshal(payload, content); err != nil {
			return nil, fmt.Errorf("decode serverContent: %w", err)
		}
		event.Content = content
	case EventToolCall:
		call := &ToolCall{}
		if err := json.Unmarshal(payload, call); err != nil {
			return nil, fmt.Errorf("decode toolCall: %w", err)
		}
		event.ToolCall = call
	case EventToolCallCancellation:
		cancellation := &ToolCallCancellation{}
		if err := json.Unmarshal(payload, cancellation); err != nil {
			return nil, fmt.Errorf("decode toolCallCancellation: %w", err)
		}
		event.Cancellation = cancellation
	case EventGoAway:
		goAway := &GoAway{}
		if err := json.Unmarshal(payload, goAway); err != nil {
			return nil, fmt.Errorf("decode goAway: %w", err)
		}
		event.GoAway = goAway
	case EventSessionResumptionUpdate:
		update := &SessionResumptionUpdate{}
		if err := json.Unmarshal(payload, update); err != nil {
			return nil, fmt.Errorf("decode sessionResumptionUpdate: %w", err)
		}
		event.Resumption = update
	}

	return event, nil
}

// SetupComplete acknowledges the setup frame.
type SetupComplete struct{}

// ServerContent is incremental content streamed from the model.
type ServerContent struct {
	GenerationComplete  bool            `json:"generationComplete,omitempty"`
	TurnComplete        bool            `json:"turnComplete,omitempty"`
	Interrupted         bool            `json:"interrupted,omitempty"`
	GroundingMetadata   json.RawMessage `json:"groundingMetadata,omitempty"`
	InputTranscription  *Transcription  `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription  `json:"outputTranscription,omitempty"`
	URLContextMetadata  json.RawMessage `json:"urlContextMetadata,omitempty"`
	ModelTurn           *Content        `json:"modelTurn,omitempty"`
}

// Transcription carries recognized text for an audio stream.
type Transcription struct {
	Text string `json:"text,omitempty"`
}

// UsageMetadata reports token accounting attached to server events.
type UsageMetadata struct {
	PromptTokenCount           int               `json:"promptTokenCount,omitempty"`
	CachedContentTokenCount    int               `json:"cachedContentTokenCount,omitempty"`
	ResponseTokenCount         int               `json:"responseTokenCount,omitempty"`
	ToolUsePromptTokenCount    int               `json:"toolUsePromptTokenCount,omitempty"`
	ThoughtsTokenCount         int               `json:"thoughtsTokenCount,omitempty"`
	TotalTokenCount            int               `json:"totalTokenCount,omitempty"`
	PromptTokensDetails        []json.RawMessage `json:"promptTokensDetails,omitempty"`
	CacheTokensDetails         []json.RawMessage `json:"cacheTokensDetails,omitempty"`
	ResponseTokensDetails      []json.RawMessage `json:"responseTokensDetails,omitempty"`
	ToolUsePromptTokensDetails []json.RawMessage `json:"toolUsePromptTokensDetails,omitempty"`
}

// ToolCall requests execution of one or more functions.
type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}

// FunctionCall is a single function invocation issued by the model.
type FunctionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolCallCancellation withdraws previously issued tool calls.
type ToolCallCancellation struct {
	IDs []string `json:"ids,omitempty"`
}

// GoAway announces that the server will close the connection.
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// SessionResumptionUpdate carries resumption handle updates.
type SessionResumptionUpdate struct {
	NewHandle string `json:"newHandle,omitempty"`
	Resumable bool   `json:"resumable,omitempty"`
}

// ErrorResponse is the standard error payload returned by the service.
type ErrorResponse struct {
	Code    int               `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	Status  string            `json:"status,omitempty"`
	Details []json.RawMessage `json:"details,omitempty"`
}

// String renders the error with enough context to diagnose without
// re-running.
func (e ErrorResponse) String() string {
	switch {
	case e.Message != "" && e.Code != 0 && e.Status != "":
		return fmt.Sprintf("%s (code %d, status %s)", e.Message, e.Code, e.Status)
	case e.Message != "" && e.Code != 0:
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	case e.Message != "" && e.Status != "":
		return fmt.Sprintf("%s (status %s)", e.Message, e.Status)
	case e.Message != "":
		return e.Message
	case e.Code != 0 && e.Status != "":
		return fmt.Sprintf("code %d, status %s", e.Code, e.Status)
	case e.Code != 0:
		return fmt.Sprintf("code %d", e.Code)
	case e.Status != "":
		return fmt.Sprintf("status %s", e.Status)
	default:
		return "unknown error"
	}
}
