package fhirmodel

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle is a FHIR Bundle resource: searchset, transaction(-response), or
// batch(-response), distinguished by Type.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

type BundleRequest struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	IfMatch     string `json:"ifMatch,omitempty"`
	IfNoneExist string `json:"ifNoneExist,omitempty"`
}

type BundleResponse struct {
	Status       string      `json:"status"`
	Location     string      `json:"location,omitempty"`
	Etag         string      `json:"etag,omitempty"`
	LastModified *time.Time  `json:"lastModified,omitempty"`
	Outcome      interface{} `json:"outcome,omitempty"`
}

// SearchBundleParams carries the pagination inputs NewSearchBundle needs to
// render self/next/previous links.
type SearchBundleParams struct {
	BaseURL string
	Count   int
	Offset  int
	Total   int
}

// NewSearchBundle builds a searchset Bundle from decoded resource maps,
// marshaling each into its entry's resource body, populating each entry's fullUrl from its resourceType/id and
// rendering pagination links from params.
func NewSearchBundle(resources []map[string]interface{}, params SearchBundleParams) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		raw, _ := json.Marshal(r)
		entries[i] = BundleEntry{
			FullURL:  resourceFullURL(r, params.BaseURL),
			Resource: raw,
			Search:   &BundleSearch{Mode: "match"},
		}
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &params.Total,
		Timestamp:    &now,
		Link:         buildPaginationLinks(params),
		Entry:        entries,
	}
}

// NewTransactionResponse builds a transaction-response Bundle from per-entry
// outcomes.
func NewTransactionResponse(entries []BundleEntry) *Bundle {
	now := time.Now().UTC()
	return &Bundle{ResourceType: "Bundle", Type: "transaction-response", Timestamp: &now, Entry: entries}
}

// NewBatchResponse builds a batch-response Bundle from per-entry outcomes.
func NewBatchResponse(entries []BundleEntry) *Bundle {
	now := time.Now().UTC()
	return &Bundle{ResourceType: "Bundle", Type: "batch-response", Timestamp: &now, Entry: entries}
}

func resourceFullURL(r map[string]interface{}, baseURL string) string {
	rt, _ := r["resourceType"].(string)
	id, _ := r["id"].(string)
	if rt == "" || id == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", baseURL, rt, id)
}

func buildPaginationLinks(p SearchBundleParams) []BundleLink {
	links := []BundleLink{
		{Relation: "self", URL: fmt.Sprintf("%s?_count=%d&_offset=%d", p.BaseURL, p.Count, p.Offset)},
	}
	if p.Count > 0 && p.Offset+p.Count < p.Total {
		links = append(links, BundleLink{
			Relation: "next",
			URL:      fmt.Sprintf("%s?_count=%d&_offset=%d", p.BaseURL, p.Count, p.Offset+p.Count),
		})
	}
	if p.Offset > 0 {
		prevOffset := p.Offset - p.Count
		if prevOffset < 0 {
			prevOffset = 0
		}
		links = append(links, BundleLink{
			Relation: "previous",
			URL:      fmt.Sprintf("%s?_count=%d&_offset=%d", p.BaseURL, p.Count, prevOffset),
		})
	}
	return links
}
