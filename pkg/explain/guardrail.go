package explain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ocn-ai/orca/pkg/contracts"
)

// LLMExplanation is the JSON shape the model must return.
type LLMExplanation struct {
	Explanation string   `json:"explanation"`
	Confidence  float64  `json:"confidence"`
	KeyFactors  []string `json:"key_factors"`
}

// Guardrail violation codes.
const (
	ViolationParse         = "parse_error"
	ViolationSchema        = "schema_violation"
	ViolationHallucination = "hallucination_marker"
	ViolationPII           = "pii_detected"
	ViolationAdvice        = "advice_detected"
	ViolationGuarantee     = "unqualified_guarantee"
	ViolationNoContext     = "missing_context_reference"
	ViolationLowConfidence = "low_confidence"
	ViolationUncertainty   = "uncertainty_marker"
)

// minConfidence is the acceptance floor for model self-confidence.
const minConfidence = 0.5

const explanationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["explanation", "confidence", "key_factors"],
  "properties": {
    "explanation": {"type": "string", "minLength": 10, "maxLength": 2000},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "key_factors": {"type": "array", "items": {"type": "string"}, "maxItems": 10}
  }
}`

var (
	fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

	// Hallucination markers: precise timestamps, fabricated decimal
	// statistics, and overly specific transaction counts.
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}`)
	statRe      = regexp.MustCompile(`\d+\.\d+%|%\s*probability|\d+\.\d+\s*percent`)
	exactRe     = regexp.MustCompile(`(?i)exactly\s+\d+\s+transactions?`)

	// PII patterns.
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardRe  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	nameRe  = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr)\.\s+[A-Z][a-z]+`)

	adviceRe    = regexp.MustCompile(`(?i)should consult|legal advice|financial advi[sc]or|we recommend consulting|tax advice`)
	guaranteeRe = regexp.MustCompile(`(?i)\bguaranteed?\b|will never|100%\s*(?:safe|certain)|cannot fail`)

	uncertaintyRe = regexp.MustCompile(`(?i)i'?m not sure|i think|not certain|unclear|hard to say|cannot determine`)
)

// Guardrail validates and sanitizes LLM explanation output.
type Guardrail struct {
	schema              *jsonschema.Schema
	refuseOnUncertainty bool
}

// NewGuardrail compiles the response schema. refuseOnUncertainty adds
// the uncertainty-marker rejection.
func NewGuardrail(refuseOnUncertainty bool) (*Guardrail, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://schemas.ocn.ai/guardrail/llm_explanation.schema.json"
	if err := c.AddResource(url, strings.NewReader(explanationSchema)); err != nil {
		return nil, fmt.Errorf("guardrail schema load: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("guardrail schema compile: %w", err)
	}
	return &Guardrail{schema: compiled, refuseOnUncertainty: refuseOnUncertainty}, nil
}

// Check parses and validates raw model output. On success it returns
// the sanitized explanation; otherwise the violation code that caused
// rejection.
func (g *Guardrail) Check(raw string, req *contracts.DecisionRequest) (*LLMExplanation, string) {
	stripped := StripFences(raw)

	var parsed LLMExplanation
	if err := json.Unmarshal([]byte(stripped), &parsed); err != nil {
		return nil, ViolationParse
	}

	var generic any
	if err := json.Unmarshal([]byte(stripped), &generic); err != nil {
		return nil, ViolationParse
	}
	if err := g.schema.Validate(generic); err != nil {
		return nil, ViolationSchema
	}

	text := parsed.Explanation
	switch {
	case timestampRe.MatchString(text), statRe.MatchString(text), exactRe.MatchString(text):
		return nil, ViolationHallucination
	case ssnRe.MatchString(text), cardRe.MatchString(text), emailRe.MatchString(text), nameRe.MatchString(text):
		return nil, ViolationPII
	case adviceRe.MatchString(text):
		return nil, ViolationAdvice
	case guaranteeRe.MatchString(text):
		return nil, ViolationGuarantee
	case !referencesContext(text, req):
		return nil, ViolationNoContext
	case parsed.Confidence < minConfidence:
		return nil, ViolationLowConfidence
	case g.refuseOnUncertainty && uncertaintyRe.MatchString(text):
		return nil, ViolationUncertainty
	}

	parsed.Explanation = Sanitize(parsed.Explanation)
	return &parsed, ""
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// referencesContext requires the text to mention at least one concrete
// attribute of the transaction being explained.
func referencesContext(text string, req *contracts.DecisionRequest) bool {
	if req == nil {
		return false
	}
	lower := strings.ToLower(text)
	candidates := []string{
		fmt.Sprintf("%.2f", req.CartTotal),
		fmt.Sprintf("%.0f", req.CartTotal),
		strings.ToLower(req.Currency),
		strings.ToLower(string(req.Rail)),
		"cart total",
		"transaction amount",
	}
	for _, c := range candidates {
		if c != "" && strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// Sanitize redacts residual PII matches and softens absolute phrasing
// in accepted text.
func Sanitize(text string) string {
	text = ssnRe.ReplaceAllString(text, "[REDACTED]")
	text = cardRe.ReplaceAllString(text, "[REDACTED]")
	text = emailRe.ReplaceAllString(text, "[REDACTED]")
	text = regexp.MustCompile(`(?i)\bguaranteed\b`).ReplaceAllString(text, "expected")
	text = regexp.MustCompile(`(?i)\bexactly\b`).ReplaceAllString(text, "approximately")
	text = regexp.MustCompile(`(?i)should consult`).ReplaceAllString(text, "may wish to review")
	return text
}
