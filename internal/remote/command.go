// Package remote models commands sent by the companion control surface and
// the bus the canvas uses to dispatch them.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCommand reports a remote command that failed validation.
var ErrInvalidCommand = errors.New("remote: invalid command")

// Type is the wire discriminator of a command.
type Type string

const (
	TypeCreateTool Type = "create-tool"
	TypeRotate3D   Type = "rotate-3d"
	TypeUIAction   Type = "ui-action"
)

// Action is a UI action name.
type Action string

const (
	ActionZoomIn       Action = "zoom-in"
	ActionZoomOut      Action = "zoom-out"
	ActionClearNotices Action = "clear-notices"
)

func (a Action) valid() bool {
	switch a {
	case ActionZoomIn, ActionZoomOut, ActionClearNotices:
		return true
	}
	return false
}

// Command is one of CreateTool, Rotate3D or UIAction.
type Command interface {
	CommandType() Type
	isCommand()
}

// CreateTool asks the canvas to create a tool as if the user had typed it.
type CreateTool struct {
	ToolType       string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	InitialSeconds int    `json:"initialSeconds,omitempty"`
}

// Rotate3D carries a normalized trackpad position in [0,1].
type Rotate3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UIAction triggers a view-level action.
type UIAction struct {
	Action Action `json:"action"`
}

func (CreateTool) CommandType() Type { return TypeCreateTool }
func (Rotate3D) CommandType() Type   { return TypeRotate3D }
func (UIAction) CommandType() Type   { return TypeUIAction }

func (CreateTool) isCommand() {}
func (Rotate3D) isCommand()   {}
func (UIAction) isCommand()   {}

// Prompt renders the command as the text a user would have typed.
func (c CreateTool) Prompt() string {
	var b strings.Builder
	b.WriteString("create a ")
	b.WriteString(c.ToolType)
	if c.Topic != "" {
		b.WriteString(" about ")
		b.WriteString(c.Topic)
	}
	if c.InitialSeconds > 0 {
		fmt.Fprintf(&b, " lasting %d seconds", c.InitialSeconds)
	}
	return b.String()
}

// Message is a decoded command with its sender timestamp.
type Message struct {
	Command   Command
	Timestamp time.Time
}

// DedupeKey identifies a message across both transport channels.
func (m Message) DedupeKey() string {
	if m.Command == nil || m.Timestamp.IsZero() {
		return ""
	}
	return string(m.Command.CommandType()) + ":" + strconv.FormatInt(m.Timestamp.UnixMilli(), 10)
}

type wireMessage struct {
	Type      Type            `json:"type"`
	Params    json.RawMessage `json:"params,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

const maxToolTypeLen = 64

// Parse decodes and validates the wire form {type, params, timestamp}.
func Parse(raw []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	params := wire.Params
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage(`{}`)
	}

	var cmd Command
	switch wire.Type {
	case TypeCreateTool:
		var c CreateTool
		if err := json.Unmarshal(params, &c); err != nil {
			return Message{}, fmt.Errorf("%w: create-tool params: %v", ErrInvalidCommand, err)
		}
		c.ToolType = strings.TrimSpace(c.ToolType)
		c.Topic = strings.TrimSpace(c.Topic)
		if c.ToolType == "" || len(c.ToolType) > maxToolTypeLen || strings.ContainsAny(c.ToolType, "\r\n") {
			return Message{}, fmt.Errorf("%w: create-tool needs a tool type", ErrInvalidCommand)
		}
		if c.InitialSeconds < 0 {
			return Message{}, fmt.Errorf("%w: negative initialSeconds", ErrInvalidCommand)
		}
		cmd = c
	case TypeRotate3D:
		var c Rotate3D
		if err := json.Unmarshal(params, &c); err != nil {
			return Message{}, fmt.Errorf("%w: rotate-3d params: %v", ErrInvalidCommand, err)
		}
		if math.IsNaN(c.X) || math.IsNaN(c.Y) {
			return Message{}, fmt.Errorf("%w: rotate-3d coordinates", ErrInvalidCommand)
		}
		c.X = clamp01(c.X)
		c.Y = clamp01(c.Y)
		cmd = c
	case TypeUIAction:
		var c UIAction
		if err := json.Unmarshal(params, &c); err != nil {
			return Message{}, fmt.Errorf("%w: ui-action params: %v", ErrInvalidCommand, err)
		}
		if !c.Action.valid() {
			return Message{}, fmt.Errorf("%w: unknown ui action %q", ErrInvalidCommand, c.Action)
		}
		cmd = c
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, wire.Type)
	}

	msg := Message{Command: cmd}
	if wire.Timestamp > 0 {
		msg.Timestamp = time.UnixMilli(wire.Timestamp)
	}
	return msg, nil
}

// Encode produces the wire form of a command.
func Encode(cmd Command, at time.Time) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidCommand)
	}
	params, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{
		Type:      cmd.CommandType(),
		Params:    params,
		Timestamp: at.UnixMilli(),
	})
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
