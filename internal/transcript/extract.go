// Package transcript turns a per-device command capture into the flat
// terminal-log form the vendor tools produce.
package transcript

import (
	"strings"

	"github.com/davidzhou73/convnetlog/internal/xmldoc"
)

// Element names in a capture document
const (
	TagCommand = "command"
	TagEcho    = "echo"
)

// CommandEntry is one command and the output captured for it
type CommandEntry struct {
	Command string `json:"command"`
	// Response is the echo with the prompt line and trailing prompt removed
	Response []string `json:"response"`
	// Echo is the whole captured output, trimmed
	Echo string `json:"echo"`
}

// Pair is a command element and the echo that directly follows it
type Pair struct {
	Command string
	Echo    string
	HasEcho bool
}

// Pairs returns every non-empty command element in document order. Echo
// is set only when the next element sibling is an echo.
func Pairs(doc *xmldoc.Document) []Pair {
	var pairs []Pair

	for _, cmd := range doc.FindAll(TagCommand) {
		text := strings.TrimSpace(xmldoc.Text(cmd))
		if text == "" {
			continue
		}

		p := Pair{Command: text}
		if next := doc.NextSibling(cmd); next != nil && next.Data == TagEcho {
			p.Echo = normalizeEcho(xmldoc.Text(next))
			p.HasEcho = true
		}
		pairs = append(pairs, p)
	}

	return pairs
}

// Extract pairs every command element with the echo element that directly
// follows it under the same parent. Commands without such an echo, or with
// no text, produce nothing. Order is document order.
func Extract(doc *xmldoc.Document) []CommandEntry {
	var entries []CommandEntry
	for _, p := range Pairs(doc) {
		if !p.HasEcho {
			continue
		}
		entries = append(entries, CommandEntry{
			Command:  p.Command,
			Response: responseLines(p.Echo),
			Echo:     p.Echo,
		})
	}
	return entries
}

// Commands lists the text of every non-empty command element in document
// order, echoed or not. Repeats are kept.
func Commands(doc *xmldoc.Document) []string {
	var cmds []string
	for _, cmd := range doc.FindAll(TagCommand) {
		if text := strings.TrimSpace(xmldoc.Text(cmd)); text != "" {
			cmds = append(cmds, text)
		}
	}
	return cmds
}

// ExtractFile opens a capture file and extracts its entries. A malformed
// file yields an *xmldoc.ParseError.
func ExtractFile(path string) ([]CommandEntry, error) {
	doc, err := xmldoc.Open(path)
	if err != nil {
		return nil, err
	}
	return Extract(doc), nil
}

func normalizeEcho(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}

// responseLines drops the first line (the echoed command at the prompt) and
// the last line (the prompt left behind by the capture tool).
func responseLines(echo string) []string {
	lines := strings.Split(echo, "\n")
	if len(lines) < 2 {
		return []string{}
	}
	out := make([]string, len(lines)-2)
	copy(out, lines[1:len(lines)-1])
	return out
}
