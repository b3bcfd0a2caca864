package convo

import (
	"fmt"
	"strings"
)

// GroundingBudget is the maximum grounding length in characters.
const GroundingBudget = 3500

// TruncationMarker is appended to grounding text cut at GroundingBudget.
const TruncationMarker = "\n\n[...document truncated...]"

// GroundingKind says where grounding text came from.
type GroundingKind string

const (
	GroundingNone     GroundingKind = "none"
	GroundingDocument GroundingKind = "document"
	GroundingImageOCR GroundingKind = "image-ocr"
)

// ParseGroundingKind accepts the names produced by GroundingKind.
func ParseGroundingKind(s string) (GroundingKind, error) {
	switch k := GroundingKind(strings.ToLower(strings.TrimSpace(s))); k {
	case GroundingNone, GroundingDocument, GroundingImageOCR:
		return k, nil
	case "":
		return GroundingNone, nil
	}
	return "", fmt.Errorf("unknown grounding kind %q", s)
}

// Grounding is text extracted from a document or image that the assistant
// should answer from.
type Grounding struct {
	Kind      GroundingKind `json:"kind"`
	Source    string        `json:"source"`
	Text      string        `json:"text"`
	Truncated bool          `json:"truncated"`
}

// NewGrounding builds a Grounding, truncating text to GroundingBudget runes.
func NewGrounding(kind GroundingKind, source, text string) Grounding {
	g := Grounding{Kind: kind, Source: source, Text: text}
	if r := []rune(text); len(r) > GroundingBudget {
		g.Text = string(r[:GroundingBudget]) + TruncationMarker
		g.Truncated = true
	}
	return g
}

// Active reports whether g contributes to a prompt.
func (g *Grounding) Active() bool {
	return g != nil && g.Kind != GroundingNone && g.Kind != "" && g.Text != ""
}

func (g *Grounding) block() string {
	if !g.Active() {
		return ""
	}
	switch g.Kind {
	case GroundingImageOCR:
		return "You have access to text extracted from an image via OCR.\n" +
			g.Text + "\n\n" +
			"Please answer questions about this text accurately. " +
			"If asked about specific content, quote directly from the extracted text.\n\n"
	default:
		return "Document context:\n" + g.Text + "\n\n"
	}
}
