package prompt

import (
	"regexp"
	"strings"
)

// PartDelimiter separates chat "parts" in model output.
const PartDelimiter = "---"

// ButtonPrefix marks a bubble that the client renders as a button.
const ButtonPrefix = "[BUTTON]"

var buttonRe = regexp.MustCompile(`\[BUTTON:\s*([^\]]+)\]`)

// SplitBubbles turns a full model response into chat bubbles: one per
// non-empty line of each part, followed by a "[BUTTON]label" entry when the
// part carries a [BUTTON: label] marker.
func SplitBubbles(text string) []string {
	var bubbles []string
	for _, part := range strings.Split(text, PartDelimiter) {
		bubbles = append(bubbles, PartBubbles(part)...)
	}
	return bubbles
}

// PartBubbles splits a single part (no delimiter inside) into bubbles.
func PartBubbles(part string) []string {
	part = strings.TrimSpace(part)
	if part == "" {
		return nil
	}

	button := ""
	if m := buttonRe.FindStringSubmatch(part); m != nil {
		button = m[1]
		part = strings.TrimSpace(buttonRe.ReplaceAllString(part, ""))
	}

	var bubbles []string
	for _, line := range strings.Split(part, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			bubbles = append(bubbles, line)
		}
	}
	if button != "" {
		bubbles = append(bubbles, ButtonPrefix+button)
	}
	return bubbles
}

// PartSplitter buffers streamed tokens and hands back each part as soon as
// its closing delimiter has arrived. Feeding a response through Write and
// Flush yields the same parts as splitting the whole text at once.
type PartSplitter struct {
	buf strings.Builder
}

// Write appends token and returns the parts completed by it. Blank parts are
// dropped.
func (s *PartSplitter) Write(token string) []string {
	s.buf.WriteString(token)
	pending := s.buf.String()

	var parts []string
	for {
		idx := strings.Index(pending, PartDelimiter)
		if idx < 0 {
			break
		}
		if part := pending[:idx]; strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
		pending = pending[idx+len(PartDelimiter):]
	}
	if parts != nil || len(pending) != s.buf.Len() {
		s.buf.Reset()
		s.buf.WriteString(pending)
	}
	return parts
}

// Flush returns whatever follows the last delimiter and resets the splitter.
func (s *PartSplitter) Flush() string {
	rest := s.buf.String()
	s.buf.Reset()
	if strings.TrimSpace(rest) == "" {
		return ""
	}
	return rest
}
