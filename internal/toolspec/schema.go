package toolspec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type propSchemaRegistry struct {
	once    sync.Once
	initErr error
	schemas map[Type]*jsonschema.Schema
}

var propSchemas propSchemaRegistry

func initPropSchemas() error {
	propSchemas.once.Do(func() {
		propSchemas.schemas = make(map[Type]*jsonschema.Schema, len(propSchemaSources))
		for t, src := range propSchemaSources {
			compiled, err := jsonschema.CompileString("tool_props_"+string(t), src)
			if err != nil {
				propSchemas.initErr = fmt.Errorf("compile %s schema: %w", t, err)
				return
			}
			propSchemas.schemas[t] = compiled
		}
	})
	return propSchemas.initErr
}

// ValidateProps checks a raw property bag against the schema of the given kind.
func ValidateProps(t Type, raw json.RawMessage) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if err := initPropSchemas(); err != nil {
		return err
	}
	raw = normalizeRaw(raw)
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProps, err)
	}
	if schema := propSchemas.schemas[t]; schema != nil {
		if err := schema.Validate(payload); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidProps, t, err)
		}
	}
	return nil
}

// DecodeProps validates a raw property bag and decodes it into the typed
// properties of the given kind.
func DecodeProps(t Type, raw json.RawMessage) (Props, error) {
	if err := ValidateProps(t, raw); err != nil {
		return nil, err
	}
	props, err := propDecoders[t](normalizeRaw(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProps, t, err)
	}
	return props, nil
}

// EncodeProps serializes typed properties to their wire form.
func EncodeProps(p Props) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(p)
}

func normalizeRaw(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`)
	}
	return trimmed
}

type wireSpec struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Properties  json.RawMessage `json:"properties,omitempty"`
	Props       json.RawMessage `json:"props,omitempty"`
	Origin      string          `json:"originParticipant,omitempty"`
	CreatedAt   uint64          `json:"createdAt,omitempty"`
	ChainSource Type            `json:"chainSource,omitempty"`
	ChainRule   string          `json:"chainRule,omitempty"`
}

// MarshalJSON encodes the spec with its properties under "properties".
func (s Spec) MarshalJSON() ([]byte, error) {
	props, err := EncodeProps(s.Props)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireSpec{
		ID:          s.ID,
		Type:        s.Type,
		Properties:  props,
		Origin:      s.Origin,
		CreatedAt:   s.CreatedAt,
		ChainSource: s.ChainSource,
		ChainRule:   s.ChainRule,
	})
}

// UnmarshalJSON decodes and validates a spec. The legacy "props" key is
// accepted when "properties" is absent.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var wire wireSpec
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	t, err := ParseType(string(wire.Type))
	if err != nil {
		return err
	}
	raw := wire.Properties
	if len(raw) == 0 {
		raw = wire.Props
	}
	props, err := DecodeProps(t, raw)
	if err != nil {
		return err
	}
	*s = Spec{
		ID:          wire.ID,
		Type:        t,
		Props:       props,
		Origin:      wire.Origin,
		CreatedAt:   wire.CreatedAt,
		ChainSource: wire.ChainSource,
		ChainRule:   wire.ChainRule,
	}
	return s.Validate()
}

var propSchemaSources = map[Type]string{
	TypeMap:           `{"type":"object","required":["markers"],"properties":{"markers":` + markersSchema + `,"topic":{"type":"string"}}}`,
	TypeChart:         `{"type":"object","required":["chartDef"],"properties":{"chartDef":{"type":"string"},"topic":{"type":"string"}}}`,
	TypePoll:          `{"type":"object","required":["question","options"],"properties":{"question":{"type":"string","minLength":1},"options":{"type":"array","minItems":1,"items":{"type":"string"}},"topic":{"type":"string"}}}`,
	TypeTimer:         `{"type":"object","required":["initialSeconds"],"properties":{"initialSeconds":{"type":"integer","minimum":0},"mode":{"enum":["countdown","stopwatch"]},"autoStart":{"type":"boolean"}}}`,
	TypeQuoteCard:     `{"type":"object","required":["quote"],"properties":{"quote":{"type":"string"},"speaker":{"type":"string"},"timestamp":{"type":"string"}}}`,
	TypeActionItem:    `{"type":"object","required":["title"],"properties":{"title":{"type":"string","minLength":1},"assignee":{"type":"string"},"dueDate":{"type":"string"},"priority":{"enum":["low","medium","high"]}}}`,
	TypeAgenda:        `{"type":"object","required":["items"],"properties":{"title":{"type":"string"},"items":{"type":"array","items":{"type":"object","required":["title"],"properties":{"id":{"type":"string"},"title":{"type":"string"},"duration":{"type":"integer","minimum":0}}}}}}`,
	TypeMediaEmbed:    `{"type":"object","required":["url"],"properties":{"url":{"type":"string","minLength":1},"type":{"enum":["youtube","image","link"]},"title":{"type":"string"}}}`,
	TypeLiveChart:     `{"type":"object","required":["type","data"],"properties":{"type":{"enum":["bar","line","pie"]},"data":{"type":"array","items":{"type":"object","required":["name","value"],"properties":{"name":{"type":"string"},"value":{"type":"number"}}}},"title":{"type":"string"}}}`,
	TypeWordCloud:     `{"type":"object","required":["words"],"properties":{"words":{"type":"array","items":{"type":"object","required":["text"],"properties":{"text":{"type":"string"},"weight":{"type":"number"}}}},"title":{"type":"string"}}}`,
	TypeReactions:     `{"type":"object","properties":{"icons":{"type":"array","items":{"type":"string"}}}}`,
	TypeQRCode:        `{"type":"object","required":["url"],"properties":{"url":{"type":"string","minLength":1},"title":{"type":"string"}}}`,
	TypeScoreboard:    `{"type":"object","properties":{"title":{"type":"string"},"entries":{"type":"array","items":{"type":"object","required":["name","score"],"properties":{"name":{"type":"string"},"score":{"type":"number"},"avatar":{"type":"string"}}}}}}`,
	TypeSpotlight:     `{"type":"object","required":["quote"],"properties":{"quote":{"type":"string"},"speaker":{"type":"string"},"highlight":{"type":"string"}}}`,
	TypeTeleprompter:  `{"type":"object","required":["text"],"properties":{"text":{"type":"string"},"speed":{"type":"number","minimum":0},"fontSize":{"type":"number","minimum":0}}}`,
	TypeGlobe3D:       `{"type":"object","properties":{"markers":` + markersSchema + `,"autoRotate":{"type":"boolean"},"topic":{"type":"string"}}}`,
	TypeDataCube:      `{"type":"object","properties":{"data":{"type":"array","items":{"type":"object","required":["label","value"],"properties":{"label":{"type":"string"},"value":{"type":"number"},"color":{"type":"string"}}}}}}`,
	TypeParticleField: `{"type":"object","properties":{"color":{"type":"string"},"count":{"type":"integer","minimum":0}}}`,
}

const markersSchema = `{"type":"array","items":{"type":"object","required":["lat","lng","label"],"properties":{"lat":{"type":"number","minimum":-90,"maximum":90},"lng":{"type":"number","minimum":-180,"maximum":180},"label":{"type":"string"}}}}`
