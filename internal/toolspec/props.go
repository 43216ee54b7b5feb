package toolspec

import "encoding/json"

// Props is the closed set of per-kind property schemas. Each tool kind has
// exactly one implementation.
type Props interface {
	ToolType() Type
	isProps()
}

type Marker struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label"`
}

type MapProps struct {
	Markers []Marker `json:"markers"`
	Topic   string   `json:"topic,omitempty"`
}

type ChartProps struct {
	ChartDef string `json:"chartDef"`
	Topic    string `json:"topic,omitempty"`
}

type PollProps struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Topic    string   `json:"topic,omitempty"`
}

type TimerMode string

const (
	TimerCountdown TimerMode = "countdown"
	TimerStopwatch TimerMode = "stopwatch"
)

type TimerProps struct {
	InitialSeconds int       `json:"initialSeconds"`
	Mode           TimerMode `json:"mode,omitempty"`
	AutoStart      bool      `json:"autoStart,omitempty"`
}

type QuoteCardProps struct {
	Quote     string `json:"quote"`
	Speaker   string `json:"speaker,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type ActionItemProps struct {
	Title    string `json:"title"`
	Assignee string `json:"assignee,omitempty"`
	DueDate  string `json:"dueDate,omitempty"`
	Priority string `json:"priority,omitempty"`
}

type AgendaItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Duration int    `json:"duration,omitempty"`
}

type AgendaProps struct {
	Title string       `json:"title"`
	Items []AgendaItem `json:"items"`
}

type MediaEmbedProps struct {
	URL   string `json:"url"`
	Kind  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

type DataPoint struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type LiveChartProps struct {
	Kind  string      `json:"type"`
	Data  []DataPoint `json:"data"`
	Title string      `json:"title,omitempty"`
}

type WeightedWord struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type WordCloudProps struct {
	Words []WeightedWord `json:"words"`
	Title string         `json:"title,omitempty"`
}

type ReactionsProps struct {
	Icons []string `json:"icons,omitempty"`
}

type QRCodeProps struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

type ScoreEntry struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Avatar string  `json:"avatar,omitempty"`
}

type ScoreboardProps struct {
	Title   string       `json:"title,omitempty"`
	Entries []ScoreEntry `json:"entries"`
}

type SpotlightProps struct {
	Quote     string `json:"quote"`
	Speaker   string `json:"speaker,omitempty"`
	Highlight string `json:"highlight,omitempty"`
}

type TeleprompterProps struct {
	Text     string  `json:"text"`
	Speed    float64 `json:"speed,omitempty"`
	FontSize float64 `json:"fontSize,omitempty"`
}

type Globe3DProps struct {
	Markers    []Marker `json:"markers"`
	AutoRotate bool     `json:"autoRotate,omitempty"`
	Topic      string   `json:"topic,omitempty"`
}

type CubeDatum struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Color string  `json:"color,omitempty"`
}

type DataCubeProps struct {
	Data []CubeDatum `json:"data,omitempty"`
}

type ParticleFieldProps struct {
	Color string `json:"color,omitempty"`
	Count int    `json:"count,omitempty"`
}

func (MapProps) ToolType() Type           { return TypeMap }
func (ChartProps) ToolType() Type         { return TypeChart }
func (PollProps) ToolType() Type          { return TypePoll }
func (TimerProps) ToolType() Type         { return TypeTimer }
func (QuoteCardProps) ToolType() Type     { return TypeQuoteCard }
func (ActionItemProps) ToolType() Type    { return TypeActionItem }
func (AgendaProps) ToolType() Type        { return TypeAgenda }
func (MediaEmbedProps) ToolType() Type    { return TypeMediaEmbed }
func (LiveChartProps) ToolType() Type     { return TypeLiveChart }
func (WordCloudProps) ToolType() Type     { return TypeWordCloud }
func (ReactionsProps) ToolType() Type     { return TypeReactions }
func (QRCodeProps) ToolType() Type        { return TypeQRCode }
func (ScoreboardProps) ToolType() Type    { return TypeScoreboard }
func (SpotlightProps) ToolType() Type     { return TypeSpotlight }
func (TeleprompterProps) ToolType() Type  { return TypeTeleprompter }
func (Globe3DProps) ToolType() Type       { return TypeGlobe3D }
func (DataCubeProps) ToolType() Type      { return TypeDataCube }
func (ParticleFieldProps) ToolType() Type { return TypeParticleField }

func (MapProps) isProps()           {}
func (ChartProps) isProps()         {}
func (PollProps) isProps()          {}
func (TimerProps) isProps()         {}
func (QuoteCardProps) isProps()     {}
func (ActionItemProps) isProps()    {}
func (AgendaProps) isProps()        {}
func (MediaEmbedProps) isProps()    {}
func (LiveChartProps) isProps()     {}
func (WordCloudProps) isProps()     {}
func (ReactionsProps) isProps()     {}
func (QRCodeProps) isProps()        {}
func (ScoreboardProps) isProps()    {}
func (SpotlightProps) isProps()     {}
func (TeleprompterProps) isProps()  {}
func (Globe3DProps) isProps()       {}
func (DataCubeProps) isProps()      {}
func (ParticleFieldProps) isProps() {}

// propDecoders decode a validated property bag into the kind's struct.
var propDecoders = map[Type]func([]byte) (Props, error){
	TypeMap:           decodeAs[MapProps],
	TypeChart:         decodeAs[ChartProps],
	TypePoll:          decodeAs[PollProps],
	TypeTimer:         decodeAs[TimerProps],
	TypeQuoteCard:     decodeAs[QuoteCardProps],
	TypeActionItem:    decodeAs[ActionItemProps],
	TypeAgenda:        decodeAs[AgendaProps],
	TypeMediaEmbed:    decodeAs[MediaEmbedProps],
	TypeLiveChart:     decodeAs[LiveChartProps],
	TypeWordCloud:     decodeAs[WordCloudProps],
	TypeReactions:     decodeAs[ReactionsProps],
	TypeQRCode:        decodeAs[QRCodeProps],
	TypeScoreboard:    decodeAs[ScoreboardProps],
	TypeSpotlight:     decodeAs[SpotlightProps],
	TypeTeleprompter:  decodeAs[TeleprompterProps],
	TypeGlobe3D:       decodeAs[Globe3DProps],
	TypeDataCube:      decodeAs[DataCubeProps],
	TypeParticleField: decodeAs[ParticleFieldProps],
}

func decodeAs[T Props](raw []byte) (Props, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
