package schema

import "fmt"

// requiredFields drives the built-in fallback: top-level required keys
// per schema, used when the schema tree cannot be loaded.
var requiredFields = map[string][]string{
	KindMandate + "/intent_mandate":   {"actor", "intent_type", "channel", "agent_presence", "timestamps"},
	KindMandate + "/cart_mandate":     {"items", "amount", "currency"},
	KindMandate + "/payment_mandate":  {"instrument_ref", "modality", "auth_requirements"},
	KindMandate + "/decision_outcome": {"result", "risk_score", "reasons", "actions"},
	KindMandate + "/ap2_contract":     {"ap2_version", "intent", "cart", "payment", "decision", "signing"},

	KindEvent + "/ocn.orca.decision.v1":    {"specversion", "id", "source", "type", "subject", "time", "datacontenttype", "data"},
	KindEvent + "/ocn.orca.explanation.v1": {"specversion", "id", "source", "type", "subject", "time", "datacontenttype", "data"},
	KindEvent + "/ocn.weave.audit.v1":      {"specversion", "id", "source", "type", "subject", "time", "datacontenttype", "data"},
}

// enumFields are the handful of closed-set fields the fallback still
// checks so a malformed decision cannot slip through unvalidated.
var enumFields = map[string]map[string][]string{
	KindMandate + "/decision_outcome": {
		"result": {"APPROVE", "REVIEW", "DECLINE"},
	},
	KindMandate + "/payment_mandate": {
		"modality": {"immediate", "deferred"},
	},
	KindMandate + "/ap2_contract": {
		"ap2_version": {"0.1.0"},
	},
	KindEvent + "/ocn.orca.decision.v1": {
		"specversion": {"1.0"},
		"type":        {"ocn.orca.decision.v1"},
	},
	KindEvent + "/ocn.orca.explanation.v1": {
		"specversion": {"1.0"},
		"type":        {"ocn.orca.explanation.v1"},
	},
	KindEvent + "/ocn.weave.audit.v1": {
		"specversion": {"1.0"},
		"type":        {"ocn.weave.audit.v1"},
	},
}

func fallbackValidate(kind, name string, value any) []ValidationError {
	key := kind + "/" + name
	obj, ok := value.(map[string]any)
	if !ok {
		return []ValidationError{{Path: "/", Message: "document must be a JSON object"}}
	}

	var errs []ValidationError
	for _, field := range requiredFields[key] {
		if _, present := obj[field]; !present {
			errs = append(errs, ValidationError{
				Path:       "/" + field,
				Message:    fmt.Sprintf("missing required field %q", field),
				SchemaPath: "/required",
			})
		}
	}
	for field, allowed := range enumFields[key] {
		raw, present := obj[field]
		if !present {
			continue
		}
		s, isString := raw.(string)
		if !isString || !contains(allowed, s) {
			errs = append(errs, ValidationError{
				Path:       "/" + field,
				Message:    fmt.Sprintf("value %v not in %v", raw, allowed),
				SchemaPath: "/properties/" + field + "/enum",
			})
		}
	}
	return errs
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
