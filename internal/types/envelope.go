package types

import (
	"encoding/json"
	"strings"
)

// EnvelopeKind tags the response envelope variants.
type EnvelopeKind string

const (
	EnvelopeEmpty      EnvelopeKind = "empty"
	EnvelopeText       EnvelopeKind = "text"
	EnvelopeStructured EnvelopeKind = "structured"
)

// ResponseEnvelope is the single well-defined shape agents return. Having a
// tagged union here keeps normalization a pattern match instead of
// speculative shape-sniffing of nested maps.
type ResponseEnvelope struct {
	Kind EnvelopeKind   `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// TextEnvelope wraps plain text.
func TextEnvelope(text string) ResponseEnvelope {
	return ResponseEnvelope{Kind: EnvelopeText, Text: text}
}

// StructuredEnvelope wraps a structured result.
func StructuredEnvelope(data map[string]any) ResponseEnvelope {
	return ResponseEnvelope{Kind: EnvelopeStructured, Data: data}
}

// EmptyEnvelope is the no-result value.
func EmptyEnvelope() ResponseEnvelope {
	return ResponseEnvelope{Kind: EnvelopeEmpty}
}

// IsEmpty reports whether the envelope carries no content.
func (e ResponseEnvelope) IsEmpty() bool {
	return e.Kind == EnvelopeEmpty || e.Kind == ""
}

// Normalize extracts the user-facing response string from an envelope.
//
// Text envelopes strip exactly one layer of surrounding quoting. Structured
// envelopes unwrap a nested "response" field once: a string is taken
// directly, a nested object may supply its own "response" string. Anything
// else renders as compact JSON. Empty envelopes normalize to "".
func (e ResponseEnvelope) Normalize() string {
	switch e.Kind {
	case EnvelopeText:
		return stripOneQuoteLayer(e.Text)
	case EnvelopeStructured:
		if inner, ok := e.Data["response"]; ok {
			switch v := inner.(type) {
			case string:
				return stripOneQuoteLayer(v)
			case map[string]any:
				if s, ok := v["response"].(string); ok {
					return stripOneQuoteLayer(s)
				}
			}
		}
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return ""
		}
		return string(raw)
	default:
		return ""
	}
}

// stripOneQuoteLayer removes a single layer of matching double quotes.
func stripOneQuoteLayer(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) >= 2 && strings.HasPrefix(trimmed, `"`) && strings.HasSuffix(trimmed, `"`) {
		return trimmed[1 : len(trimmed)-1]
	}
	return trimmed
}
