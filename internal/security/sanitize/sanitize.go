// Package sanitize normalizes untrusted text. Every function here only
// removes input bytes (HTML also lowercases the names of the tags it keeps),
// so output never grows and applying a function twice changes nothing.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// MaxFilenameBytes bounds Filename output.
const MaxFilenameBytes = 255

// AllowedHTMLTags is the markup kept by HTML. No attributes survive.
var AllowedHTMLTags = []string{"b", "strong", "i", "em", "u", "p", "br", "ul", "ol", "li"}

var tagPattern = regexp.MustCompile(`<[^<>]*>`)

// Text strips tags, stray angle brackets, invalid UTF-8 and control
// characters (tab and newline are kept), then trims surrounding whitespace.
func Text(s string) string {
	s = tagPattern.ReplaceAllString(strings.ToValidUTF8(s, ""), "")
	return strings.TrimSpace(strings.Map(textRune, s))
}

func textRune(r rune) rune {
	switch {
	case r == '<' || r == '>':
		return -1
	case r == '\t' || r == '\n':
		return r
	case unicode.IsControl(r):
		return -1
	}
	return r
}

// printable drops invalid UTF-8 and control characters other than tab and
// newline.
func printable(s string) string {
	return strings.Map(func(r rune) rune {
		if r != '\t' && r != '\n' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.ToValidUTF8(s, ""))
}

func filenameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-' || r == ' ':
		return true
	}
	return false
}

// Filename keeps [A-Za-z0-9._- ], collapses runs of dots, truncates to
// MaxFilenameBytes, and strips leading dots and spaces and trailing spaces.
func Filename(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevDot := false
	for _, r := range s {
		if !filenameRune(r) {
			continue
		}
		if r == '.' {
			if prevDot {
				continue
			}
			prevDot = true
		} else {
			prevDot = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > MaxFilenameBytes {
		out = out[:MaxFilenameBytes]
	}
	out = strings.TrimLeft(out, ". ")
	return strings.TrimRight(out, " ")
}

// NewHTMLPolicy builds the bluemonday policy used by HTML.
func NewHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(AllowedHTMLTags...)
	return p
}

var htmlPolicy = NewHTMLPolicy()

// HTML keeps AllowedHTMLTags without attributes and removes all other
// markup. Text is returned literally: entities in the input are not decoded
// and nothing is entity-encoded, so text carries no angle brackets and must
// be escaped by whatever renders it.
func HTML(s string) string {
	return sanitizeWith(htmlPolicy, s)
}

// sanitizeWith escapes every '&' so the policy sees entities as plain text,
// then splits its output into kept tags and escaped text and unescapes the
// text again.
func sanitizeWith(p *bluemonday.Policy, s string) string {
	out := p.Sanitize(strings.ReplaceAll(printable(s), "&", "&amp;"))

	var b strings.Builder
	b.Grow(len(out))
	last := 0
	for _, loc := range tagPattern.FindAllStringIndex(out, -1) {
		b.WriteString(literal(out[last:loc[0]]))
		b.WriteString(out[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(literal(out[last:]))
	return strings.TrimSpace(b.String())
}

func literal(escaped string) string {
	return strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		return r
	}, html.UnescapeString(escaped))
}
