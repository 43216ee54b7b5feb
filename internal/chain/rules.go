// Package chain implements the chain rule engine: tool events are matched
// against a static rule table and, after a debounce window, synthesize the
// properties of a new tool.
package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

// ErrInvalidRules reports a malformed rule table. It is a configuration error.
var ErrInvalidRules = errors.New("chain: invalid rule table")

// Transform maps an event payload to the properties of the tool to create.
// It must be pure.
type Transform func(payload json.RawMessage) (toolspec.Props, error)

// Rule maps a (tool type, event type) pair to a synthesized tool.
type Rule struct {
	ID              string
	SourceToolType  toolspec.Type
	SourceEventType string
	TargetToolType  toolspec.Type
	Transform       Transform
	Description     string
}

func (r Rule) key() string {
	return string(r.SourceToolType) + "\x00" + r.SourceEventType
}

// ValidateRules rejects tables with duplicate (type, event) keys, duplicate
// ids, unknown tool kinds or missing transforms.
func ValidateRules(rules []Rule) error {
	keys := make(map[string]string, len(rules))
	ids := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		if strings.TrimSpace(rule.ID) == "" {
			return fmt.Errorf("%w: rule %d has no id", ErrInvalidRules, i)
		}
		if _, dup := ids[rule.ID]; dup {
			return fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRules, rule.ID)
		}
		ids[rule.ID] = struct{}{}
		if !rule.SourceToolType.Valid() || !rule.TargetToolType.Valid() {
			return fmt.Errorf("%w: rule %q references an unknown tool type", ErrInvalidRules, rule.ID)
		}
		if strings.TrimSpace(rule.SourceEventType) == "" {
			return fmt.Errorf("%w: rule %q has no source event", ErrInvalidRules, rule.ID)
		}
		if rule.Transform == nil {
			return fmt.Errorf("%w: rule %q has no transform", ErrInvalidRules, rule.ID)
		}
		if other, dup := keys[rule.key()]; dup {
			return fmt.Errorf("%w: rules %q and %q both match %s/%s",
				ErrInvalidRules, other, rule.ID, rule.SourceToolType, rule.SourceEventType)
		}
		keys[rule.key()] = rule.ID
	}
	return nil
}

// DefaultRules returns the compiled-in rule table.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:              "poll-to-chart",
			SourceToolType:  toolspec.TypePoll,
			SourceEventType: "vote",
			TargetToolType:  toolspec.TypeChart,
			Description:     "Poll results generate a pie chart",
			Transform:       pollResultsToPie,
		},
		{
			ID:              "chart-to-poll",
			SourceToolType:  toolspec.TypeChart,
			SourceEventType: "node-click",
			TargetToolType:  toolspec.TypePoll,
			Description:     "Clicking a chart node creates a decision poll",
			Transform:       chartNodeToPoll,
		},
		{
			ID:              "map-to-poll",
			SourceToolType:  toolspec.TypeMap,
			SourceEventType: "marker-click",
			TargetToolType:  toolspec.TypePoll,
			Description:     "Clicking a map marker creates a location poll",
			Transform:       mapMarkerToPoll,
		},
	}
}

// VotePayload is emitted by poll tools on every vote.
type VotePayload struct {
	Question string       `json:"question"`
	Results  []VoteResult `json:"results"`
}

type VoteResult struct {
	Option string `json:"option"`
	Votes  int    `json:"votes"`
}

func pollResultsToPie(payload json.RawMessage) (toolspec.Props, error) {
	var vote VotePayload
	if err := json.Unmarshal(payload, &vote); err != nil {
		return nil, fmt.Errorf("decode vote payload: %w", err)
	}
	if len(vote.Results) == 0 {
		return nil, errors.New("vote payload has no results")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "pie title %s", mermaidText(vote.Question))
	for _, r := range vote.Results {
		fmt.Fprintf(&b, "\n    %q : %d", mermaidText(r.Option), r.Votes)
	}
	return toolspec.ChartProps{ChartDef: b.String()}, nil
}

func chartNodeToPoll(payload json.RawMessage) (toolspec.Props, error) {
	var click struct {
		NodeLabel string `json:"nodeLabel"`
	}
	if err := json.Unmarshal(payload, &click); err != nil {
		return nil, fmt.Errorf("decode node click: %w", err)
	}
	if strings.TrimSpace(click.NodeLabel) == "" {
		return nil, errors.New("node click has no label")
	}
	return toolspec.PollProps{
		Question: fmt.Sprintf("What action should we take on %q?", click.NodeLabel),
		Options:  []string{"Proceed", "Review", "Skip", "Discuss more"},
	}, nil
}

func mapMarkerToPoll(payload json.RawMessage) (toolspec.Props, error) {
	var marker toolspec.Marker
	if err := json.Unmarshal(payload, &marker); err != nil {
		return nil, fmt.Errorf("decode marker click: %w", err)
	}
	if strings.TrimSpace(marker.Label) == "" {
		return nil, errors.New("marker click has no label")
	}
	return toolspec.PollProps{
		Question: fmt.Sprintf("Should we include %q in our plan?", marker.Label),
		Options:  []string{"Yes", "No", "Maybe", "Need more info"},
	}, nil
}

// mermaidText strips characters that would break a mermaid pie definition.
func mermaidText(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, `"`, "'")
}
