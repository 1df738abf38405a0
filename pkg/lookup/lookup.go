// Package lookup provides clients for the external item lookup service that
// supplies descriptions, image candidates and classifications for inventory
// items.
package lookup

import (
	"context"
)

// Client looks up a batch of items. Implementations return exactly one
// result per requested item, in request order, or an error.
type Client interface {
	Lookup(ctx context.Context, req Request) (*Response, error)
}

// Item is one item to look up.
type Item struct {
	Name          string `json:"name"`
	Brand         string `json:"brand,omitempty"`
	CatalogNumber string `json:"catalog_number,omitempty"`
}

// Request is the lookup request body.
type Request struct {
	Items []Item `json:"items"`
}

// Image is one image candidate.
type Image struct {
	URL    string `json:"url"`
	Source string `json:"source"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Result is the lookup result for one item. Every field is optional.
type Result struct {
	Description       string  `json:"description,omitempty"`
	ImageURL          string  `json:"image_url,omitempty"`
	ImageURLs         []Image `json:"image_urls,omitempty"`
	SuggestedQuantity *int    `json:"suggested_quantity,omitempty"`
	ItemType          string  `json:"item_type,omitempty"`
	SafetyLevel       string  `json:"safety_level,omitempty"`
	ImageSearchStatus string  `json:"image_search_status,omitempty"`
}

// Images returns the image candidates, falling back to ImageURL when the
// service only returned a single primary image.
func (r Result) Images() []Image {
	if len(r.ImageURLs) > 0 {
		return r.ImageURLs
	}
	if r.ImageURL != "" {
		return []Image{{URL: r.ImageURL, Source: "lookup"}}
	}
	return nil
}

// Response is the lookup response body.
type Response struct {
	Results []Result `json:"results"`
}
