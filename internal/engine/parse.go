/*
PURPOSE:
  Extracts token counts and durations from a generate call's result.
  Handles both delivery shapes behind one interface: a single terminal
  JSON payload, or an NDJSON chunk stream whose final done=true record
  carries the cumulative counters.

REQUIREMENTS:
  User-specified:
  - Only the final record's counters are authoritative in streaming
    mode; intermediate records carry incremental text only.
  - Malformed or missing counters must surface as a parse failure, not
    a crash.

  Implementation-discovered:
  - Ollama reports durations in nanoseconds; convert to seconds here so
    nothing downstream touches the native unit.
  - Garbage resilience: an unparseable intermediate chunk is skipped; a
    stream that ends without a done record is malformed.

ARCHITECTURE INTEGRATION:
  - Produced by: internal/engine/client.go (Generate)
  - Consumed by: internal/engine/runner.go

ERROR HANDLING:
  - Returns *ParseError; the runner maps it to the malformed-response
    classification.

IMPLEMENTATION RULES:
  - Parse streaming JSON line-by-line with bufio.Scanner.
  - Close the stream body exactly once, inside Counters().

USAGE:
  counters, err := payload.Counters()

SELF-HEALING INSTRUCTIONS:
  - If Ollama renames its counter fields, update ollamaChunk tags.

RELATED FILES:
  - internal/engine/client.go
  - internal/engine/runner.go

MAINTENANCE:
  - Keep in sync with the /api/generate response schema.
*/

package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mcabrer/ollama-sweep/internal/output"
)

// ParseError marks a response whose counters could not be extracted.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "malformed response: " + e.Reason
}

// Counters are the extracted per-call measurements, durations already
// converted from the server's nanoseconds to seconds.
type Counters struct {
	Text             string
	TotalDurationS   float64
	LoadDurationS    float64
	PrefillTokens    int
	PrefillDurationS float64
	DecodeTokens     int
	DecodeDurationS  float64
}

// ollamaChunk is one /api/generate record. In buffered mode it is the
// whole response; in streaming mode only the done=true record carries
// the cumulative counters.
type ollamaChunk struct {
	Response           string `json:"response"`
	Done               bool   `json:"done"`
	TotalDuration      int64  `json:"total_duration"` // ns
	LoadDuration       int64  `json:"load_duration"`  // ns
	PromptEvalCount    int    `json:"prompt_eval_count"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"` // ns
	EvalCount          int    `json:"eval_count"`
	EvalDuration       int64  `json:"eval_duration"` // ns
	Error              string `json:"error"`         // API-side error
}

func nsToSeconds(ns int64) float64 {
	return float64(ns) / 1e9
}

func (ch ollamaChunk) counters(text string) Counters {
	return Counters{
		Text:             text,
		TotalDurationS:   nsToSeconds(ch.TotalDuration),
		LoadDurationS:    nsToSeconds(ch.LoadDuration),
		PrefillTokens:    ch.PromptEvalCount,
		PrefillDurationS: nsToSeconds(ch.PromptEvalDuration),
		DecodeTokens:     ch.EvalCount,
		DecodeDurationS:  nsToSeconds(ch.EvalDuration),
	}
}

type payloadKind int

const (
	payloadBuffered payloadKind = iota
	payloadStreamed
)

// Payload is the tagged result of one generate call: Buffered(body) or
// Streamed(chunk reader), resolved once by the client and consumed
// through Counters().
type Payload struct {
	kind   payloadKind
	body   []byte
	stream io.ReadCloser
}

func newBufferedPayload(body []byte) *Payload {
	return &Payload{kind: payloadBuffered, body: body}
}

func newStreamedPayload(stream io.ReadCloser) *Payload {
	return &Payload{kind: payloadStreamed, stream: stream}
}

// Counters extracts the authoritative counters from the payload. For a
// streamed payload this consumes and closes the body.
func (p *Payload) Counters() (Counters, error) {
	switch p.kind {
	case payloadStreamed:
		return p.parseStream()
	default:
		return p.parseBuffered()
	}
}

func (p *Payload) parseBuffered() (Counters, error) {
	var ch ollamaChunk
	if err := json.Unmarshal(p.body, &ch); err != nil {
		return Counters{}, &ParseError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if ch.Error != "" {
		return Counters{}, &ParseError{Reason: "api error: " + ch.Error}
	}
	if !ch.Done {
		return Counters{}, &ParseError{Reason: "terminal record not marked done"}
	}
	return ch.counters(ch.Response), nil
}

func (p *Payload) parseStream() (Counters, error) {
	defer p.stream.Close()

	scanner := bufio.NewScanner(p.stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var text []byte
	var final ollamaChunk
	gotDone := false

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ch ollamaChunk
		// Garbage resilience: skip invalid intermediate chunks.
		if err := json.Unmarshal(line, &ch); err != nil {
			output.Logger.Warn("Skipping invalid JSON chunk", "chunk", string(line))
			continue
		}
		if ch.Error != "" {
			return Counters{}, &ParseError{Reason: "api error: " + ch.Error}
		}

		text = append(text, ch.Response...)

		if ch.Done {
			final = ch
			gotDone = true
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return Counters{}, err
	}
	if !gotDone {
		return Counters{}, &ParseError{Reason: "stream ended without done record"}
	}

	// Only the final record's counters are authoritative; the accumulated
	// text is kept for token-count sanity checks by callers.
	return final.counters(string(text)), nil
}
