package model

import (
	"net/url"

	"github.com/sells-group/lab-inventory/internal/schema"
)

// ValueSource records where an enriched value came from.
type ValueSource string

const (
	SourceOnline    ValueSource = "online"
	SourceHeuristic ValueSource = "heuristic"
	SourceAuto      ValueSource = "auto"
	SourceManual    ValueSource = "manual"
)

// EnrichedValue is one supplemental value for a field.
type EnrichedValue struct {
	Value  any         `json:"value"`
	Source ValueSource `json:"source"`
}

// Image is an image candidate or a curator-selected image.
type Image struct {
	URL    string `json:"url"`
	Source string `json:"source"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// External reports whether the image lives on an http(s) host and therefore
// needs to be downloaded before it can be persisted.
func (i Image) External() bool {
	u, err := url.Parse(i.URL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ImageSearchStatus summarises how many images the lookup service returned.
type ImageSearchStatus string

const (
	ImagesFound    ImageSearchStatus = "found"
	ImagesPartial  ImageSearchStatus = "partial"
	ImagesNotFound ImageSearchStatus = "not_found"
)

// ImageSearchFor classifies an image count: five or more is found, one to four
// is partial.
func ImageSearchFor(n int) ImageSearchStatus {
	switch {
	case n >= 5:
		return ImagesFound
	case n > 0:
		return ImagesPartial
	default:
		return ImagesNotFound
	}
}

// EnrichmentRecord holds the supplemental values for one source row.
type EnrichmentRecord struct {
	Values      map[schema.Field]EnrichedValue `json:"values"`
	Images      []Image                        `json:"all_images,omitempty"`
	ImageSearch ImageSearchStatus              `json:"image_search_status,omitempty"`
}

// NewEnrichmentRecord returns an empty record.
func NewEnrichmentRecord() *EnrichmentRecord {
	return &EnrichmentRecord{Values: make(map[schema.Field]EnrichedValue)}
}

// Set stores v for f.
func (e *EnrichmentRecord) Set(f schema.Field, v any, src ValueSource) {
	if e.Values == nil {
		e.Values = make(map[schema.Field]EnrichedValue)
	}
	e.Values[f] = EnrichedValue{Value: v, Source: src}
}

// Get returns the enriched value for f.
func (e *EnrichmentRecord) Get(f schema.Field) (EnrichedValue, bool) {
	if e == nil {
		return EnrichedValue{}, false
	}
	v, ok := e.Values[f]
	return v, ok
}
