package canvas

import (
	"time"

	"github.com/haasonsaas/livecanvas/internal/toolspec"
	"github.com/haasonsaas/livecanvas/internal/toolsync"
)

// Role is the author of a timeline entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one timeline message with the tools it produced.
type Entry struct {
	ID      string
	Role    Role
	Content string
	Tools   []toolspec.Spec
	At      time.Time
}

func (e Entry) clone() Entry {
	e.Tools = append([]toolspec.Spec(nil), e.Tools...)
	return e
}

// NoticeLevel grades a user-visible notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient message shown outside the timeline.
type Notice struct {
	Level NoticeLevel
	Text  string
	At    time.Time
}

// Rotation is the latest remote rotation applied to a 3D tool.
type Rotation struct {
	ToolID string
	X, Y   float64
}

// Zoom bounds for remote zoom actions.
const (
	DefaultZoom = 1.0
	MinZoom     = 0.5
	MaxZoom     = 3.0
	ZoomStep    = 0.25
)

// UIState is view-only state driven by remote commands.
type UIState struct {
	Zoom     float64
	Rotation *Rotation
}

// View is a point-in-time snapshot of everything a participant sees.
type View struct {
	Timeline []Entry
	// Shared holds tools in the merged collection that no timeline entry
	// owns, i.e. tools shared by others.
	Shared       []toolsync.Entry
	ActiveChain  string
	Connectivity map[string]bool
	UI           UIState
	Notices      []Notice
	Processing   bool
}
