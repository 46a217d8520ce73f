package contracts

import (
	"embed"
	"encoding/json"
)

// CloudEvent type names emitted and consumed across the OCN mesh.
const (
	EventTypeDecision    = "ocn.orca.decision.v1"
	EventTypeExplanation = "ocn.orca.explanation.v1"
	EventTypeAudit       = "ocn.weave.audit.v1"
)

// CloudEvent is a CloudEvents 1.0 envelope. Data is kept raw so the
// subscriber can re-validate and hash exactly what was sent.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	Subject         string          `json:"subject"`
	Time            string          `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	DataSchema      string          `json:"dataschema,omitempty"`
	Data            json.RawMessage `json:"data"`
}

// DecodeData unmarshals the event payload into v.
func (e *CloudEvent) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// SchemaFS holds the bundled mandate and event JSON schemas. The schema
// package compiles from this tree unless a directory override is given.
//
//go:embed schemas
var SchemaFS embed.FS

// SchemaRoot is the root directory inside SchemaFS.
const SchemaRoot = "schemas"
