// Package fhirmodel holds the wire-level FHIR R4 types the repository,
// search engine, and HTTP surface exchange: Resource/Meta envelopes,
// Bundle/BundleEntry, and OperationOutcome. These are thin JSON-tagged
// structs — the persistence layer itself treats resource bodies as opaque
// map[string]interface{} trees (see internal/rowbuilder), and only uses
// these types at the boundary where a typed envelope is useful.
package fhirmodel

import (
	"encoding/json"
	"time"
)

// Meta is the subset of Resource.meta the engine manages itself: the rest
// of meta (security labels, tags) passes through the opaque content map
// untouched.
type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
	Profile     []string  `json:"profile,omitempty"`
}

// CodeableConcept, Coding, Identifier, HumanName, Address, and ContactPoint
// mirror the FHIR R4 data types the global lookup tables decompose.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

type Address struct {
	Use        string   `json:"use,omitempty"`
	Text       string   `json:"text,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

type ContactPoint struct {
	System string `json:"system,omitempty"`
	Use    string `json:"use,omitempty"`
	Value  string `json:"value,omitempty"`
}

// OperationOutcome is the error envelope the repository, search engine, and
// HTTP layer return for every failure kind in the apperror taxonomy.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{Severity: severity, Code: code, Diagnostics: diagnostics},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome("error", "processing", diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome("error", "not-found", resourceType+"/"+id+" not found")
}

func GoneOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome("error", "deleted", resourceType+"/"+id+" has been deleted")
}

func ConflictOutcome(message string) *OperationOutcome {
	return NewOperationOutcome("error", "conflict", message)
}

// MarshalResource marshals a decoded resource tree back into its raw JSON
// body, e.g. for embedding in a Bundle entry.
func MarshalResource(resource map[string]interface{}) ([]byte, error) {
	return json.Marshal(resource)
}

// DecodeResource unmarshals a raw JSON resource body into its opaque tree
// form. An empty body (a DELETE entry carries none) decodes to nil.
func DecodeResource(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
