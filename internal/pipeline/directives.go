package pipeline

import (
	"regexp"
	"strings"
)

// DirectiveKind identifies a control tag embedded in generated text.
type DirectiveKind string

const (
	// DirectiveEndCall asks the session to close the call after the current
	// reply finishes playing.
	DirectiveEndCall DirectiveKind = "end_call"

	// DirectiveHandoff asks the session to transfer the caller to a human.
	DirectiveHandoff DirectiveKind = "handoff"

	// DirectiveVerify asks the session to run identity verification against
	// the name carried in the directive argument.
	DirectiveVerify DirectiveKind = "verify"
)

// Directive is a single control tag extracted from a completed reply.
type Directive struct {
	Kind DirectiveKind
	// Arg holds the tag argument, e.g. the claimed name for a verify tag.
	Arg string
}

// tagPattern matches the bracketed control tags the model is prompted to
// emit. VERIFY carries a colon-separated argument.
var tagPattern = regexp.MustCompile(`\[(END_CALL|HANDOFF|VERIFY:\s*([^\]]*))\]`)

// ParseDirectives extracts control tags from a completed reply. It returns
// the reply text with all tags removed plus the directives in order of
// appearance. Tags are only acted on after a reply completes successfully;
// callers must not invoke this for cancelled or failed runs.
func ParseDirectives(text string) (string, []Directive) {
	var directives []Directive

	matches := tagPattern.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		switch {
		case m[1] == "END_CALL":
			directives = append(directives, Directive{Kind: DirectiveEndCall})
		case m[1] == "HANDOFF":
			directives = append(directives, Directive{Kind: DirectiveHandoff})
		case strings.HasPrefix(m[1], "VERIFY"):
			directives = append(directives, Directive{
				Kind: DirectiveVerify,
				Arg:  strings.TrimSpace(m[2]),
			})
		}
	}

	cleaned := tagPattern.ReplaceAllString(text, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return cleaned, directives
}

// tagFilter strips bracketed control tags from a token stream so they are
// never spoken. Tokens may split a tag at any position, so the filter holds
// back text from an unmatched '[' until the tag either closes or is
// disproven by a newline or stream end.
type tagFilter struct {
	held strings.Builder
}

// feed consumes the next token and returns the text safe to synthesize now.
func (f *tagFilter) feed(token string) string {
	if f.held.Len() == 0 && !strings.ContainsRune(token, '[') {
		return token
	}

	var out strings.Builder
	for _, r := range token {
		if f.held.Len() > 0 {
			// Inside a potential tag.
			f.held.WriteRune(r)
			switch r {
			case ']':
				frag := f.held.String()
				f.held.Reset()
				if !tagPattern.MatchString(frag) {
					out.WriteString(frag)
				}
			case '\n':
				// A tag never spans lines; release the held text.
				out.WriteString(f.held.String())
				f.held.Reset()
			}
			continue
		}
		if r == '[' {
			f.held.WriteRune(r)
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

// flush releases any text still held back at end of stream.
func (f *tagFilter) flush() string {
	out := f.held.String()
	f.held.Reset()
	return out
}
