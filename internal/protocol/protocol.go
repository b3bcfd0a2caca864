// Package protocol implements the text protocol spoken by the Genie inference
// binaries: the Llama-style prompt envelope and the [BEGIN]/[END] framed reply.
package protocol

import (
	"errors"
	"strings"
)

// Markers emitted by the inference binary. Matching is case-sensitive.
const (
	BeginMarker = "[BEGIN]:"
	EndMarker   = "[END]"
)

var (
	readyMarkers = []string{"Allocated", ">>"}
	fatalMarkers = []string{"ERROR", "FATAL"}
)

// ErrNoBegin is reported when a reply ended before any [BEGIN]: marker.
var ErrNoBegin = errors.New("protocol: no " + BeginMarker + " marker in reply")

// Encode wraps userText in the role-delimited envelope the binary expects.
func Encode(userText string) string {
	return "<|begin_of_text|><|start_header_id|>user<|end_header_id|>\n\n" +
		userText +
		"<|eot_id|><|start_header_id|>assistant<|end_header_id|>"
}

// IsReady reports whether a startup line signals the model is loaded.
func IsReady(line string) bool { return containsAny(line, readyMarkers) }

// IsFatal reports whether a startup line signals an unrecoverable failure.
func IsFatal(line string) bool { return containsAny(line, fatalMarkers) }

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Tokenize splits a fragment on whitespace. Each piece carries one trailing
// space so concatenated tokens keep natural word spacing.
func Tokenize(fragment string) []string {
	fields := strings.Fields(fragment)
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f + " "
	}
	return out
}

// Decoder turns raw reply lines into tokens. The zero value is ready to use;
// use a fresh Decoder per exchange.
type Decoder struct {
	begun bool
	done  bool
}

// Feed consumes one reply line and returns the tokens it contributes. done is
// true once the [END] marker has been seen, including an [END] that arrives
// before any [BEGIN]:. Later lines contribute nothing.
func (d *Decoder) Feed(line string) (tokens []string, done bool) {
	if d.done {
		return nil, true
	}
	if !d.begun {
		i := strings.Index(line, BeginMarker)
		if i < 0 {
			// A reply that closes without ever opening is over; Err reports it.
			if strings.Contains(line, EndMarker) {
				d.done = true
				return nil, true
			}
			return nil, false
		}
		d.begun = true
		line = line[i+len(BeginMarker):]
	}
	if i := strings.Index(line, EndMarker); i >= 0 {
		d.done = true
		return Tokenize(line[:i]), true
	}
	return Tokenize(line), false
}

// Begun reports whether the [BEGIN]: marker has been seen.
func (d *Decoder) Begun() bool { return d.begun }

// Done reports whether the [END] marker has been seen.
func (d *Decoder) Done() bool { return d.done }

// Err reports ErrNoBegin if the reply never started.
func (d *Decoder) Err() error {
	if !d.begun {
		return ErrNoBegin
	}
	return nil
}
