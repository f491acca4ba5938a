// Package sseutil provides SSE line reading and OpenAI chunk construction
// shared by the upstream adapters.
package sseutil

import (
	"bufio"
	"io"
	"strings"
)

// maxLineSize bounds a single SSE line. Deltas are tiny, but message_start
// events echo the request and can run long with large system prompts, so
// the cap matches the 1MB response body limit. Exceeding it surfaces as a
// scanner error and ends the stream.
const maxLineSize = 1 << 20

// NewScanner returns a bufio.Scanner configured for reading SSE lines.
// Each Scan() yields one line without the trailing newline.
func NewScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), maxLineSize)
	return s
}

// ParseSSELine splits a single SSE line into its event type and data payload.
// Empty lines, comments, and malformed lines return ok=false.
//
//	"event: <type>"   -> event=type, data="", ok=true
//	"data: <payload>" -> event="", data=payload, ok=true
//	": comment", ""   -> ok=false
func ParseSSELine(line string) (event, data string, ok bool) {
	if line == "" || line[0] == ':' {
		return "", "", false
	}

	key, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	// Optional single space after the colon, per the SSE spec.
	value = strings.TrimPrefix(value, " ")

	switch key {
	case "event":
		return value, "", true
	case "data":
		return "", value, true
	default:
		return "", "", false
	}
}
