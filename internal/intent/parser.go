// Package intent maps free text to a tool intent with a deterministic keyword
// table. It backs tool creation when the generation service is unreachable.
package intent

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

// None is the intent type returned when no keyword matches.
const None toolspec.Type = "none"

// DefaultTimerSeconds is used when a timer request names no duration.
const DefaultTimerSeconds = 300

const matchConfidence = 0.8

// Intent is the result of parsing free text.
type Intent struct {
	Type       toolspec.Type
	Confidence float64
	// Params holds extracted parameters: InitialSeconds for timers, Topic for
	// kinds that accept one.
	Params Params
}

type Params struct {
	InitialSeconds int
	Topic          string
}

// Matched reports whether a tool kind was recognized.
func (i Intent) Matched() bool {
	return i.Type != None && i.Type != ""
}

type keywordSet struct {
	typ      toolspec.Type
	keywords []string
	topic    bool
}

// keywordTable is scanned in order; the first kind with any keyword contained
// in the text wins.
var keywordTable = []keywordSet{
	{typ: toolspec.TypeTimer, keywords: []string{"timer", "countdown", "tamer", "time", "clock", "stopwatch"}},
	{typ: toolspec.TypePoll, keywords: []string{"poll", "vote", "survey", "pole", "voting"}, topic: true},
	{typ: toolspec.TypeChart, keywords: []string{"chart", "diagram", "graph", "mermaid", "visualize"}, topic: true},
	{typ: toolspec.TypeMap, keywords: []string{"map", "location", "geography", "place"}, topic: true},
	{typ: toolspec.TypeGlobe3D, keywords: []string{"globe", "earth", "3d globe", "planet", "world"}, topic: true},
	{typ: toolspec.TypeScoreboard, keywords: []string{"scoreboard", "score", "points", "leaderboard"}},
}

var (
	minutesPattern = regexp.MustCompile(`(\d+)\s*(min|minute|minut)`)
	secondsPattern = regexp.MustCompile(`(\d+)\s*(sec|second)`)
	aboutPattern   = regexp.MustCompile(`\babout\s+(.+)`)
	forPattern     = regexp.MustCompile(`\bfor\s+(.+)`)
)

// Parse maps text to an intent. It never fails and has no side effects.
func Parse(text string) Intent {
	lower := strings.ToLower(text)
	for _, set := range keywordTable {
		if !containsAny(lower, set.keywords) {
			continue
		}
		result := Intent{Type: set.typ, Confidence: matchConfidence}
		if set.typ == toolspec.TypeTimer {
			result.Params.InitialSeconds = parseSeconds(lower)
		}
		if set.topic {
			result.Params.Topic = parseTopic(lower)
		}
		return result
	}
	return Intent{Type: None, Confidence: 0}
}

func containsAny(text string, words []string) bool {
	for _, word := range words {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

func parseSeconds(text string) int {
	if m := minutesPattern.FindStringSubmatch(text); m != nil {
		// Durations that overflow fall back to the default.
		if n, err := strconv.Atoi(m[1]); err == nil && n <= math.MaxInt/60 {
			return n * 60
		}
	}
	if m := secondsPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return DefaultTimerSeconds
}

func parseTopic(text string) string {
	if m := aboutPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := forPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
