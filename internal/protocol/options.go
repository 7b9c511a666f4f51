package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Source option kinds.
const (
	KindCrop     = "crop"
	KindPaged    = "paged"
	KindTemporal = "temporal"
)

var (
	ErrUnknownSourceOptions   = errors.New("unknown source options kind")
	ErrDuplicateSourceOptions = errors.New("duplicate source options kind")
)

// TransformationOptions steer how each source is transformed.
type TransformationOptions struct {
	Resize  *ResizeOptions `json:"resize,omitempty"`
	Format  string         `json:"format,omitempty"`
	Quality int            `json:"quality,omitempty"`
	// Params is an extra command-line fragment appended to the tool
	// invocation. Quoted spans are honoured when it is tokenized.
	Params  *string           `json:"params,omitempty"`
	Sources SourceOptionsList `json:"source_options,omitempty"`
}

type ResizeOptions struct {
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	KeepAspect bool    `json:"keep_aspect"`
	Scale      float64 `json:"scale,omitempty"`
}

// SourceOptions narrow which part of a source is read. At most one value of
// each kind may be present in a TransformationOptions.
type SourceOptions interface {
	Kind() string
	// MediaTypes lists the media type patterns the options apply to.
	MediaTypes() []string
}

// CropOptions select a pixel rectangle of an image.
type CropOptions struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (*CropOptions) Kind() string         { return KindCrop }
func (*CropOptions) MediaTypes() []string { return []string{"image/*"} }

// PagedOptions select pages of a multi-page document. Page is 1-based;
// Count of zero means a single page.
type PagedOptions struct {
	Page  int `json:"page"`
	Count int `json:"count,omitempty"`
}

func (*PagedOptions) Kind() string { return KindPaged }
func (*PagedOptions) MediaTypes() []string {
	return []string{"application/pdf", "image/tiff", "image/gif"}
}

// TemporalOptions select a time window of audio or video. A zero Duration
// reads to the end.
type TemporalOptions struct {
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration,omitempty"`
}

func (*TemporalOptions) Kind() string         { return KindTemporal }
func (*TemporalOptions) MediaTypes() []string { return []string{"video/*", "audio/*"} }

var sourceOptionKinds = map[string]func() SourceOptions{
	KindCrop:     func() SourceOptions { return &CropOptions{} },
	KindPaged:    func() SourceOptions { return &PagedOptions{} },
	KindTemporal: func() SourceOptions { return &TemporalOptions{} },
}

// AppliesTo reports whether opts are meaningful for content of mediaType.
func AppliesTo(opts SourceOptions, mediaType string) bool {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	for _, p := range opts.MediaTypes() {
		if ok, _ := path.Match(p, mediaType); ok {
			return true
		}
	}
	return false
}

// Set stores opts, replacing any existing value of the same kind in place.
func (o *TransformationOptions) Set(opts SourceOptions) {
	for i, cur := range o.Sources {
		if cur.Kind() == opts.Kind() {
			o.Sources[i] = opts
			return
		}
	}
	o.Sources = append(o.Sources, opts)
}

func (o *TransformationOptions) Get(kind string) (SourceOptions, bool) {
	if o == nil {
		return nil, false
	}
	for _, cur := range o.Sources {
		if cur.Kind() == kind {
			return cur, true
		}
	}
	return nil, false
}

// For returns the options of kind if they apply to mediaType.
func (o *TransformationOptions) For(kind, mediaType string) (SourceOptions, bool) {
	opts, ok := o.Get(kind)
	if !ok || !AppliesTo(opts, mediaType) {
		return nil, false
	}
	return opts, true
}

func (o *TransformationOptions) Crop() *CropOptions {
	v, _ := o.Get(KindCrop)
	c, _ := v.(*CropOptions)
	return c
}

func (o *TransformationOptions) Paged() *PagedOptions {
	v, _ := o.Get(KindPaged)
	p, _ := v.(*PagedOptions)
	return p
}

func (o *TransformationOptions) Temporal() *TemporalOptions {
	v, _ := o.Get(KindTemporal)
	t, _ := v.(*TemporalOptions)
	return t
}

// SourceOptionsList is the polymorphic list of source options. Each element
// is encoded with its kind as the "@type" discriminator.
type SourceOptionsList []SourceOptions

func (l SourceOptionsList) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, 0, len(l))
	for _, opts := range l {
		body, err := json.Marshal(opts)
		if err != nil {
			return nil, err
		}
		raw, err := tagged(opts.Kind(), body)
		if err != nil {
			return nil, err
		}
		items = append(items, raw)
	}
	return json.Marshal(items)
}

func (l *SourceOptionsList) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(SourceOptionsList, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, raw := range items {
		kind, err := peekType(raw)
		if err != nil {
			return err
		}
		factory, ok := sourceOptionKinds[kind]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSourceOptions, kind)
		}
		if seen[kind] {
			return fmt.Errorf("%w: %q", ErrDuplicateSourceOptions, kind)
		}
		seen[kind] = true
		opts := factory()
		if err := json.Unmarshal(raw, opts); err != nil {
			return fmt.Errorf("decode %s options: %w", kind, err)
		}
		out = append(out, opts)
	}
	*l = out
	return nil
}
