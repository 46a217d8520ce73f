package events

import "github.com/ocn-ai/orca/pkg/contracts"

// ExplanationPayload is the data section of an explanation event.
type ExplanationPayload struct {
	TraceID          string            `json:"trace_id"`
	Explanation      string            `json:"explanation"`
	ExplanationHuman string            `json:"explanation_human,omitempty"`
	Decision         string            `json:"decision,omitempty"`
	Provenance       *contracts.AIMeta `json:"provenance,omitempty"`
}
