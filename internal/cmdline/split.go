// Package cmdline splits free-form command parameter strings into argument
// lists for external process invocation.
//
// Quoting follows a small shell-like subset: single and double quotes group
// text into one argument and are stripped from the result. Only one quote
// context is open at a time, so the other quote kind inside a quoted span is
// literal text. There are no escape sequences and no variable expansion; the
// result is meant for exec.Command, never for a shell.
package cmdline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNilInput          = errors.New("cmdline: nil parameter string")
	ErrUnterminatedQuote = errors.New("cmdline: unterminated quote")
	ErrMalformedQuote    = errors.New("cmdline: malformed quote nesting")
)

// SyntaxError reports where in the input a quoting problem was detected.
type SyntaxError struct {
	Pos   int // byte offset of the offending quote
	Quote rune
	Err   error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v at offset %d (%c)", e.Err, e.Pos, e.Quote)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// SplitRef is Split for optional parameter strings. A nil pointer is a
// caller error and fails with ErrNilInput.
func SplitRef(p *string) ([]string, error) {
	if p == nil {
		return nil, ErrNilInput
	}
	return Split(*p)
}

// Split tokenizes s. Empty or blank input yields no tokens and no error.
func Split(s string) ([]string, error) {
	var (
		tokens  []string
		buf     strings.Builder
		started bool // a token is open, possibly empty ("")
		quote   rune // active quote, 0 when none
		openAt  int
		prev    rune
		// other-kind quotes standing at a word start inside the current and
		// the previous quoted span; an apostrophe inside a word is plain text
		cur, last rune
	)

	for i, r := range s {
		if quote != 0 {
			if r == quote {
				quote = 0
				prev = r
				continue
			}
			if (r == '\'' || r == '"') && (prev == quote || prev == ' ' || prev == '\t') {
				cur = r
			}
			buf.WriteRune(r)
			prev = r
			continue
		}

		switch r {
		case ' ', '\t':
			if started {
				tokens = append(tokens, buf.String())
				buf.Reset()
				started = false
			}
		case '\'', '"':
			quote = r
			openAt = i
			started = true
			last, cur = cur, 0
		default:
			buf.WriteRune(r)
			started = true
		}
		prev = r
	}

	if quote != 0 {
		// the open quote pairs with one left inside the preceding span
		if last == quote {
			return nil, &SyntaxError{Pos: openAt, Quote: quote, Err: ErrMalformedQuote}
		}
		return nil, &SyntaxError{Pos: openAt, Quote: quote, Err: ErrUnterminatedQuote}
	}
	if started {
		tokens = append(tokens, buf.String())
	}
	if tokens == nil {
		tokens = []string{}
	}
	return tokens, nil
}

// Join renders args back into a parameter string that Split would turn into
// the same slice. Used for logging the exact invocation.
func Join(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = quote(a)
	}
	return strings.Join(parts, " ")
}

func quote(a string) string {
	if a == "" {
		return `""`
	}
	if !strings.ContainsAny(a, " \t'\"") {
		return a
	}
	if !strings.Contains(a, `"`) {
		return `"` + a + `"`
	}
	if !strings.Contains(a, "'") {
		return "'" + a + "'"
	}
	// Both quote kinds present: close and reopen around each double quote.
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range a {
		if r == '"' {
			b.WriteString(`"'"'"`)
			continue
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
