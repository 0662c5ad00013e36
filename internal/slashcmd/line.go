package slashcmd

import "unicode"

// Span is a half-open byte range within a single line.
type Span struct {
	Start int
	End   int
}

// Line is a parsed slash-command invocation: the name span (without the
// leading slash) and one span per whitespace-separated argument.
type Line struct {
	Name      Span
	Arguments []Span
}

// ParseLine parses a line of document text as a slash-command invocation.
// The line must begin with '/' followed immediately by a name character.
// Returns nil when the line is not an invocation.
func ParseLine(line string) *Line {
	if len(line) < 2 || line[0] != '/' {
		return nil
	}
	if !isNameByte(line[1]) {
		return nil
	}

	nameEnd := 1
	for nameEnd < len(line) && isNameByte(line[nameEnd]) {
		nameEnd++
	}
	parsed := &Line{Name: Span{Start: 1, End: nameEnd}}

	i := nameEnd
	for i < len(line) {
		for i < len(line) && isSpace(line[i]) {
			i++
		}
		if i == len(line) {
			break
		}
		start := i
		for i < len(line) && !isSpace(line[i]) {
			i++
		}
		parsed.Arguments = append(parsed.Arguments, Span{Start: start, End: i})
	}
	return parsed
}

func isNameByte(b byte) bool {
	return b == '-' || b == '_' ||
		('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') ||
		('0' <= b && b <= '9')
}

func isSpace(b byte) bool {
	return b < 0x80 && unicode.IsSpace(rune(b))
}
