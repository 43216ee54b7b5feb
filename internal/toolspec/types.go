// Package toolspec defines tool specifications, the closed set of tool kinds,
// and their typed property schemas.
package toolspec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownType  = errors.New("toolspec: unknown tool type")
	ErrInvalidProps = errors.New("toolspec: invalid properties")
	ErrMissingID    = errors.New("toolspec: missing id")
)

// Type identifies a tool kind.
type Type string

const (
	TypeMap           Type = "map"
	TypeChart         Type = "chart"
	TypePoll          Type = "poll"
	TypeTimer         Type = "timer"
	TypeQuoteCard     Type = "quoteCard"
	TypeActionItem    Type = "actionItem"
	TypeAgenda        Type = "agenda"
	TypeMediaEmbed    Type = "mediaEmbed"
	TypeLiveChart     Type = "liveChart"
	TypeWordCloud     Type = "wordCloud"
	TypeReactions     Type = "reactions"
	TypeQRCode        Type = "qrCode"
	TypeScoreboard    Type = "scoreboard"
	TypeSpotlight     Type = "spotlight"
	TypeTeleprompter  Type = "teleprompter"
	TypeGlobe3D       Type = "globe3D"
	TypeDataCube      Type = "dataCube"
	TypeParticleField Type = "particleField"
)

// Types lists every known tool kind in declaration order.
var Types = []Type{
	TypeMap, TypeChart, TypePoll,
	TypeTimer, TypeQuoteCard, TypeActionItem, TypeAgenda, TypeMediaEmbed,
	TypeLiveChart, TypeWordCloud, TypeReactions, TypeQRCode, TypeScoreboard,
	TypeSpotlight, TypeTeleprompter,
	TypeGlobe3D, TypeDataCube, TypeParticleField,
}

// Valid reports whether t is a known tool kind.
func (t Type) Valid() bool {
	_, ok := propDecoders[t]
	return ok
}

// Is3D reports whether the tool renders in a 3D scene.
func (t Type) Is3D() bool {
	return t == TypeGlobe3D || t == TypeDataCube || t == TypeParticleField
}

func (t Type) String() string { return string(t) }

// ParseType resolves a tool kind name. Matching is exact first, then
// case-insensitive so "qrcode" and "QRCode" both resolve.
func ParseType(name string) (Type, error) {
	name = strings.TrimSpace(name)
	if t := Type(name); t.Valid() {
		return t, nil
	}
	for _, t := range Types {
		if strings.EqualFold(string(t), name) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// Spec is an immutable tool specification. Once created, only its presence in
// a collection is synchronized; Props are never mutated.
type Spec struct {
	ID    string
	Type  Type
	Props Props

	// Origin is the participant whose local action produced the tool.
	Origin string
	// CreatedAt is a logical timestamp from the origin's Clock.
	CreatedAt uint64

	// ChainSource and ChainRule are set when the tool was synthesized by a chain rule.
	ChainSource Type
	ChainRule   string
}

// Chained reports whether the tool was produced by a chain rule.
func (s *Spec) Chained() bool {
	return s != nil && s.ChainRule != ""
}

// Validate checks the structural invariants of a spec.
func (s *Spec) Validate() error {
	if s == nil {
		return ErrInvalidProps
	}
	if strings.TrimSpace(s.ID) == "" {
		return ErrMissingID
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, s.Type)
	}
	if s.Props == nil {
		return fmt.Errorf("%w: %s has no properties", ErrInvalidProps, s.Type)
	}
	if s.Props.ToolType() != s.Type {
		return fmt.Errorf("%w: %s properties on %s tool", ErrInvalidProps, s.Props.ToolType(), s.Type)
	}
	return nil
}
