package content

import (
	"path"
	"strings"
)

// Reference is a URI + media type handle to a content item. It is passed by
// value and never mutated after construction.
type Reference struct {
	URI       string `json:"uri"`
	MediaType string `json:"media_type"`
	Size      *int64 `json:"size,omitempty"`
}

// NewReference builds a Reference without a known size.
func NewReference(uri, mediaType string) Reference {
	return Reference{URI: uri, MediaType: mediaType}
}

// WithSize returns a copy of r carrying size.
func (r Reference) WithSize(size int64) Reference {
	r.Size = &size
	return r
}

// Key is the identity of a reference; two references with the same URI are
// the same content item.
func (r Reference) Key() string {
	return r.URI
}

// Equal compares by URI.
func (r Reference) Equal(o Reference) bool {
	return r.URI == o.URI
}

// MatchesMediaType reports whether r's media type matches any of patterns,
// where a pattern may be a wildcard such as "image/*".
func (r Reference) MatchesMediaType(patterns ...string) bool {
	mt := strings.ToLower(strings.TrimSpace(r.MediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	for _, p := range patterns {
		if ok, _ := path.Match(strings.ToLower(p), mt); ok {
			return true
		}
	}
	return false
}

// WorkResult annotates one unit of processed or produced content.
type WorkResult struct {
	Reference Reference      `json:"content_reference"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewWorkResult returns a result with an initialised details map.
func NewWorkResult(ref Reference) WorkResult {
	return WorkResult{Reference: ref, Details: map[string]any{}}
}
