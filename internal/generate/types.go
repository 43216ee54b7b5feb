// Package generate talks to the AI generation service: the participant-side
// client with its timeout and history window, and the generate-tools HTTP
// handler that fronts a chat completion backend.
package generate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

// HistoryWindow is the number of timeline entries sent as conversation history.
const HistoryWindow = 10

// ErrUnavailable is returned when the service cannot produce a usable
// response: transport failure, timeout, non-2xx status or a malformed body.
var ErrUnavailable = errors.New("generate: service unavailable")

// Role is a conversation role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversation history entry.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Gesture kinds understood by the handler.
const (
	GestureThumbsUp = "thumbs-up"
	GestureOpenPalm = "open-palm"
	GestureVictory  = "victory"
)

// Gesture is a recognized hand gesture forwarded with a request.
type Gesture struct {
	Type      string `json:"type"`
	LastQuote string `json:"lastQuote,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
}

// Request is the generate-tools request body.
type Request struct {
	Message             string   `json:"message"`
	ConversationHistory []Turn   `json:"conversationHistory"`
	Gesture             *Gesture `json:"gestureEvent,omitempty"`
}

// Response is a decoded generate-tools response. Tools hold only specs that
// passed validation.
type Response struct {
	Message string
	Tools   []toolspec.Spec
	// Dropped counts tools rejected during decoding.
	Dropped int
}

// wireResponse is the JSON form shared by the client and the handler.
type wireResponse struct {
	Message string            `json:"message"`
	Tools   []json.RawMessage `json:"tools"`
	Error   string            `json:"error,omitempty"`
}

// wireTool accepts both "properties" and the older "props" key.
type wireTool struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
	Props      json.RawMessage `json:"props"`
}

// decodeTool validates one tool object from a response. idFn supplies an
// id when the object has none.
func decodeTool(raw json.RawMessage, idFn func(t toolspec.Type) string) (toolspec.Spec, error) {
	var wire wireTool
	if err := json.Unmarshal(raw, &wire); err != nil {
		return toolspec.Spec{}, fmt.Errorf("decode tool: %w", err)
	}
	t, err := toolspec.ParseType(wire.Type)
	if err != nil {
		return toolspec.Spec{}, err
	}
	props := wire.Properties
	if len(props) == 0 {
		props = wire.Props
	}
	decoded, err := toolspec.DecodeProps(t, props)
	if err != nil {
		return toolspec.Spec{}, err
	}
	id := strings.TrimSpace(wire.ID)
	if id == "" && idFn != nil {
		id = idFn(t)
	}
	spec := toolspec.Spec{ID: id, Type: t, Props: decoded}
	if err := spec.Validate(); err != nil {
		return toolspec.Spec{}, err
	}
	return spec, nil
}

// TrimHistory keeps the most recent HistoryWindow turns.
func TrimHistory(history []Turn) []Turn {
	if len(history) <= HistoryWindow {
		return history
	}
	return history[len(history)-HistoryWindow:]
}
