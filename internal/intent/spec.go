package intent

import (
	"fmt"

	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

var defaultPollOptions = []string{"Option A", "Option B", "Option C"}

// Props builds typed tool properties for a matched intent.
func (i Intent) Props() (toolspec.Props, error) {
	topic := i.Params.Topic
	switch i.Type {
	case toolspec.TypeTimer:
		seconds := i.Params.InitialSeconds
		if seconds <= 0 {
			seconds = DefaultTimerSeconds
		}
		return toolspec.TimerProps{InitialSeconds: seconds, Mode: toolspec.TimerCountdown}, nil
	case toolspec.TypePoll:
		question := "Quick Poll"
		if topic != "" {
			question = topic
		}
		options := append([]string(nil), defaultPollOptions...)
		return toolspec.PollProps{Question: question, Options: options, Topic: topic}, nil
	case toolspec.TypeChart:
		label := "Start"
		if topic != "" {
			label = topic
		}
		return toolspec.ChartProps{ChartDef: fmt.Sprintf("graph TD\n    A[%s] --> B[Next step]", label), Topic: topic}, nil
	case toolspec.TypeMap:
		return toolspec.MapProps{Markers: []toolspec.Marker{}, Topic: topic}, nil
	case toolspec.TypeGlobe3D:
		return toolspec.Globe3DProps{Markers: []toolspec.Marker{}, AutoRotate: true, Topic: topic}, nil
	case toolspec.TypeScoreboard:
		return toolspec.ScoreboardProps{Title: "Leaderboard", Entries: []toolspec.ScoreEntry{}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", toolspec.ErrUnknownType, i.Type)
	}
}

// Spec synthesizes a single tool specification for a matched intent.
func (i Intent) Spec(id, origin string, clock *toolspec.Clock) (*toolspec.Spec, error) {
	props, err := i.Props()
	if err != nil {
		return nil, err
	}
	spec := &toolspec.Spec{
		ID:     id,
		Type:   i.Type,
		Props:  props,
		Origin: origin,
	}
	if clock != nil {
		spec.CreatedAt = clock.Tick()
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
