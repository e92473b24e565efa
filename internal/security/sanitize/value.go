package sanitize

import "github.com/microcosm-cc/bluemonday"

// Mode selects the cleaning function for a string leaf.
type Mode int

const (
	// ModeText applies Text. It is the zero value.
	ModeText Mode = iota
	// ModeHTML applies HTML.
	ModeHTML
	// ModeFilename applies Filename.
	ModeFilename
	// ModeRaw leaves the value untouched. Used for formats already constrained
	// by validation, such as UUIDs and dates.
	ModeRaw
)

// ModeResolver reports the Mode for a field path. Paths are dotted field
// names without list indexes, e.g. "items.name".
type ModeResolver interface {
	SanitizeMode(path string) Mode
}

// Sanitizer walks validated values and cleans every string leaf.
type Sanitizer struct {
	html *bluemonday.Policy
}

// New returns a Sanitizer using the default HTML policy.
func New() *Sanitizer {
	return &Sanitizer{html: NewHTMLPolicy()}
}

// Value returns a cleaned deep copy of v. Maps, []any and []string are walked;
// other leaves are returned as is. A nil resolver means ModeText everywhere.
func (s *Sanitizer) Value(v any, modes ModeResolver) any {
	return s.walk(v, "", modes)
}

func (s *Sanitizer) walk(v any, path string, modes ModeResolver) any {
	switch t := v.(type) {
	case string:
		return s.apply(t, s.mode(path, modes))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = s.walk(child, join(path, k), modes)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = s.walk(child, path, modes)
		}
		return out
	case []string:
		mode := s.mode(path, modes)
		out := make([]string, len(t))
		for i, child := range t {
			out[i] = s.apply(child, mode)
		}
		return out
	default:
		return v
	}
}

func (s *Sanitizer) mode(path string, modes ModeResolver) Mode {
	if modes == nil {
		return ModeText
	}
	return modes.SanitizeMode(path)
}

func (s *Sanitizer) apply(v string, mode Mode) string {
	switch mode {
	case ModeHTML:
		return s.HTML(v)
	case ModeFilename:
		return Filename(v)
	case ModeRaw:
		return v
	default:
		return Text(v)
	}
}

// HTML is HTML with this Sanitizer's policy.
func (s *Sanitizer) HTML(v string) string {
	if s.html == nil {
		return HTML(v)
	}
	return sanitizeWith(s.html, v)
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
