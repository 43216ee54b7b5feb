package generate

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

type toolGuide struct {
	props   string
	useWhen string
}

var toolGuides = map[toolspec.Type]toolGuide{
	toolspec.TypeTimer:         {`{ initialSeconds: number, mode: "countdown" | "stopwatch", autoStart?: boolean }`, "time limits, breaks, countdowns"},
	toolspec.TypeActionItem:    {`{ title: string, assignee?: string, dueDate?: string, priority?: "low" | "medium" | "high" }`, "tasks and to-dos"},
	toolspec.TypeAgenda:        {`{ title: string, items: [{ id: string, title: string, duration?: number }] }`, "meeting structure and topics to cover"},
	toolspec.TypeTeleprompter:  {`{ text: string, speed?: number, fontSize?: number }`, "scripts and prepared remarks"},
	toolspec.TypePoll:          {`{ question: string, options: string[] }`, "decisions, opinions, voting"},
	toolspec.TypeReactions:     {`{ icons?: string[] }`, "live audience reactions"},
	toolspec.TypeScoreboard:    {`{ title?: string, entries: [{ name: string, score: number }] }`, "games, rankings, scores"},
	toolspec.TypeQRCode:        {`{ url: string, title?: string }`, "sharing a link"},
	toolspec.TypeMap:           {`{ markers: [{ lat: number, lng: number, label: string }] }`, "explicitly named places"},
	toolspec.TypeChart:         {`{ chartDef: string }`, "workflows and decision trees as valid Mermaid"},
	toolspec.TypeWordCloud:     {`{ words: [{ text: string, weight: number }], title?: string }`, "key topics and themes"},
	toolspec.TypeLiveChart:     {`{ type: "bar" | "line" | "pie", data: [{ name: string, value: number }], title?: string }`, "statistics and numbers"},
	toolspec.TypeSpotlight:     {`{ quote: string, speaker?: string, highlight?: string }`, "a key statement"},
	toolspec.TypeMediaEmbed:    {`{ url: string, type?: "youtube" | "image" | "link", title?: string }`, "videos, images, links"},
	toolspec.TypeQuoteCard:     {`{ quote: string, speaker?: string, timestamp?: string }`, "notable quotes"},
	toolspec.TypeGlobe3D:       {`{ markers: [{ lat: number, lng: number, label: string }], autoRotate?: boolean }`, "several international locations"},
	toolspec.TypeDataCube:      {`{ data?: [{ label: string, value: number, color?: string }] }`, "explicit requests for 3D data visuals"},
	toolspec.TypeParticleField: {`{ color?: string, count?: number }`, "explicit requests for ambient visuals"},
}

// SystemPrompt returns the instructions sent ahead of every completion.
func SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a meeting assistant that turns conversation into interactive canvas tools.\n\n")
	b.WriteString("AVAILABLE TOOLS:\n")
	for _, t := range toolspec.Types {
		g := toolGuides[t]
		fmt.Fprintf(&b, "- %s: props %s. Use for %s.\n", t, g.props, g.useWhen)
	}
	b.WriteString(`
RESPONSE FORMAT:
Return a JSON object {"message": "one or two sentences", "tools": [{"type": "<tool>", "properties": {...}}]}.

RULES:
1. Generate at most two tools per message.
2. Use map or globe3D only when places are named explicitly.
3. Use dataCube or particleField only when 3D or visual flair is requested.
4. Prefer poll, timer, actionItem, chart and liveChart.
5. Polls should offer four to six options.
`)
	return b.String()
}
