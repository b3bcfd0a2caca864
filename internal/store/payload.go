package store

import (
	"encoding/json"
	"fmt"

	"genied/internal/convo"
)

const payloadVersion = 1

// payload is the JSON column format. Bump payloadVersion on layout changes.
type payload struct {
	V           int                `json:"v"`
	Turns       []convo.TurnRecord `json:"turns"`
	Grounding   *convo.Grounding   `json:"grounding,omitempty"`
	WindowStart int                `json:"window_start,omitempty"`
}

func encodePayload(s *Session) ([]byte, error) {
	turns := s.Turns
	if turns == nil {
		turns = []convo.TurnRecord{}
	}
	return json.Marshal(payload{V: payloadVersion, Turns: turns, Grounding: s.Grounding, WindowStart: s.WindowStart})
}

func decodePayload(data []byte, s *Session) error {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode session payload: %w", err)
	}
	if p.V != payloadVersion {
		return fmt.Errorf("unsupported session payload version %d", p.V)
	}
	s.Turns = p.Turns
	s.Grounding = p.Grounding
	s.WindowStart = p.WindowStart
	return nil
}
