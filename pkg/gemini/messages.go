package gemini

import (
	"encoding/base64"
	"encoding/json"
)

// ClientMessage is the outbound envelope. Exactly one of the fields is set;
// the wire form is a JSON object with a single top-level key naming the
// message kind.
type ClientMessage struct {
	ClientContent *ClientContent `json:"clientContent,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
}

// Setup is the first frame sent after the transport upgrade.
type Setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *Content          `json:"systemInstruction,omitempty"`
	Tools                    []json.RawMessage `json:"tools,omitempty"`
	RealtimeInputConfig      json.RawMessage   `json:"realtimeInputConfig,omitempty"`
	SessionResumption        json.RawMessage   `json:"sessionResumption,omitempty"`
	ContextWindowCompression json.RawMessage   `json:"contextWindowCompression,omitempty"`
	InputAudioTranscription  json.RawMessage   `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription json.RawMessage   `json:"outputAudioTranscription,omitempty"`
	Proactivity              json.RawMessage   `json:"proactivity,omitempty"`
}

// NewSetup creates a minimal setup payload for the given model name.
func NewSetup(model string) Setup {
	return Setup{Model: model}
}

// GenerationConfig mirrors the REST API generation settings.
type GenerationConfig struct {
	CandidateCount     int             `json:"candidateCount,omitempty"`
	MaxOutputTokens    int             `json:"maxOutputTokens,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	TopP               *float64        `json:"topP,omitempty"`
	TopK               int             `json:"topK,omitempty"`
	PresencePenalty    *float64        `json:"presencePenalty,omitempty"`
	FrequencyPenalty   *float64        `json:"frequencyPenalty,omitempty"`
	ResponseModalities []string        `json:"responseModalities,omitempty"`
	SpeechConfig       json.RawMessage `json:"speechConfig,omitempty"`
	MediaResolution    json.RawMessage `json:"mediaResolution,omitempty"`
}

// ClientContent appends content turns to the conversation history.
type ClientContent struct {
	Turns        []Content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete,omitempty"`
}

// RealtimeInput carries low-latency text, audio, or video chunks plus
// activity markers.
type RealtimeInput struct {
	MediaChunks    []Blob          `json:"mediaChunks,omitempty"`
	Audio          *Blob           `json:"audio,omitempty"`
	Video          *Blob           `json:"video,omitempty"`
	ActivityStart  *ActivitySignal `json:"activityStart,omitempty"`
	ActivityEnd    *ActivitySignal `json:"activityEnd,omitempty"`
	AudioStreamEnd *bool           `json:"audioStreamEnd,omitempty"`
	Text           string          `json:"text,omitempty"`
}

// ActivitySignal marks activity boundaries when automatic detection is off.
type ActivitySignal struct{}

// ToolResponse carries function responses back to the model.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses,omitempty"`
}

// FunctionResponse answers a single function call.
type FunctionResponse struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Content is a conversation turn shared between client and server messages.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// TextContent builds a single-part text turn with the given role.
func TextContent(role string, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// SystemContent builds a system instruction turn.
func SystemContent(text string) Content {
	return TextContent("system", text)
}

// Part is a single content part. Either Text or InlineData is set.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob is a base64-encoded binary payload with an optional MIME type.
type Blob struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data"`
}

// NewBlob base64-encodes raw bytes into a blob with the given MIME type.
func NewBlob(mimeType string, raw []byte) Blob {
	return Blob{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(raw),
	}
}
