// Package search implements in-conversation message search: case-insensitive
// substring matching with highlighted snippets and cyclic match navigation.
package search

import (
	"strings"

	"github.com/gigdesk/msgd/internal/channel"
)

// Markers wrapped around each query hit in a highlighted body.
const (
	MarkStart = "<<"
	MarkEnd   = ">>"
)

// Match is one message that contains the query.
type Match struct {
	Index       int    // position within the searched slice
	Key         string // authoritative message id
	Highlighted string // body with every hit wrapped in markers
}

// Find returns the messages whose body contains the query, in message order.
// Matching is case-insensitive; an empty query matches nothing.
func Find(msgs []*channel.Message, query string) []Match {
	if query == "" {
		return nil
	}
	needle := strings.ToLower(query)

	var matches []Match
	for i, m := range msgs {
		if m.Body == "" {
			continue
		}
		highlighted, ok := highlight(m.Body, needle)
		if !ok {
			continue
		}
		matches = append(matches, Match{Index: i, Key: m.Key(), Highlighted: highlighted})
	}
	return matches
}

// highlight wraps every occurrence of needle (already lowercased) in body
// with the markers. Returns false when there is no occurrence.
func highlight(body, needle string) (string, bool) {
	lower := strings.ToLower(body)
	if len(lower) != len(body) {
		// Lowercasing changed byte offsets; match on the lowered text.
		body = lower
	}

	var b strings.Builder
	found := false
	pos := 0
	for {
		i := strings.Index(lower[pos:], needle)
		if i < 0 {
			break
		}
		found = true
		start := pos + i
		end := start + len(needle)
		b.WriteString(body[pos:start])
		b.WriteString(MarkStart)
		b.WriteString(body[start:end])
		b.WriteString(MarkEnd)
		pos = end
	}
	if !found {
		return "", false
	}
	b.WriteString(body[pos:])
	return b.String(), true
}

// Strip removes highlight markers, recovering the matched body.
func Strip(highlighted string) string {
	s := strings.ReplaceAll(highlighted, MarkStart, "")
	return strings.ReplaceAll(s, MarkEnd, "")
}

// Cursor navigates a match list cyclically. The zero position is before the
// first match; the first Next lands on it.
type Cursor struct {
	matches []Match
	pos     int
}

// NewCursor creates a cursor over matches.
func NewCursor(matches []Match) *Cursor {
	return &Cursor{matches: matches, pos: -1}
}

// Len returns the number of matches.
func (c *Cursor) Len() int { return len(c.matches) }

// Current returns the match under the cursor. ok is false before the first
// Next/Prev or when there are no matches.
func (c *Cursor) Current() (Match, bool) {
	if c.pos < 0 || c.pos >= len(c.matches) {
		return Match{}, false
	}
	return c.matches[c.pos], true
}

// Next advances to the following match, wrapping to the first after the last.
func (c *Cursor) Next() (Match, bool) {
	if len(c.matches) == 0 {
		return Match{}, false
	}
	c.pos = (c.pos + 1) % len(c.matches)
	return c.matches[c.pos], true
}

// Prev moves to the preceding match, wrapping to the last before the first.
func (c *Cursor) Prev() (Match, bool) {
	if len(c.matches) == 0 {
		return Match{}, false
	}
	if c.pos <= 0 {
		c.pos = len(c.matches) - 1
	} else {
		c.pos--
	}
	return c.matches[c.pos], true
}
