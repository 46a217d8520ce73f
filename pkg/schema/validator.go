// Package schema validates AP2 mandates and CloudEvents against the
// embedded JSON Schema tree, with a minimal built-in fallback when the
// tree is unavailable.
package schema

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ocn-ai/orca/pkg/contracts"
)

// Schema kinds, mirroring the directory layout of the embedded tree.
const (
	KindMandate = "mandates"
	KindEvent   = "events"
)

// ValidationError is one schema violation.
type ValidationError struct {
	Path       string `json:"path"`
	Message    string `json:"message"`
	SchemaPath string `json:"schema_path"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator compiles and caches schemas from a filesystem tree laid out
// as <kind>/<name>.schema.json. Relative $ref entries are inlined at
// load time so each compiled schema is self-contained.
type Validator struct {
	fsys   fs.FS
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*jsonschema.Schema

	// fallback is set when the tree could not be opened at all; every
	// validation then runs the minimal built-in checks instead.
	fallback bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithFS points the validator at an alternate schema tree.
func WithFS(fsys fs.FS) Option {
	return func(v *Validator) { v.fsys = fsys }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// New builds a validator over the embedded schema tree unless WithFS
// overrides it. A missing tree is not fatal: the validator degrades to
// the built-in fallback and logs a warning.
func New(opts ...Option) *Validator {
	v := &Validator{
		cache: make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.Default().With("component", "schema")
	}
	if v.fsys == nil {
		sub, err := fs.Sub(contracts.SchemaFS, contracts.SchemaRoot)
		if err != nil {
			v.fallback = true
			v.logger.Warn("embedded schema tree unavailable, using fallback validation", "error", err)
			return v
		}
		v.fsys = sub
	}
	if _, err := fs.Stat(v.fsys, KindMandate); err != nil {
		v.fallback = true
		v.logger.Warn("schema tree unavailable, using fallback validation", "error", err)
	}
	return v
}

// ValidateMandate validates doc against <mandates>/<name>.schema.json.
// A nil slice means the document conforms.
func (v *Validator) ValidateMandate(name string, doc any) []ValidationError {
	return v.validate(KindMandate, name, doc)
}

// ValidateCloudEvent validates a full CloudEvent envelope (including
// its data payload) against <events>/<eventType>.schema.json.
func (v *Validator) ValidateCloudEvent(eventType string, doc any) []ValidationError {
	return v.validate(KindEvent, eventType, doc)
}

func (v *Validator) validate(kind, name string, doc any) []ValidationError {
	value, err := toJSONValue(doc)
	if err != nil {
		return []ValidationError{{Path: "/", Message: fmt.Sprintf("document is not valid JSON: %v", err)}}
	}

	if v.fallback {
		return fallbackValidate(kind, name, value)
	}

	compiled, err := v.compiled(kind, name)
	if err != nil {
		v.logger.Warn("schema load failed, using fallback validation",
			"kind", kind, "name", name, "error", err)
		return fallbackValidate(kind, name, value)
	}

	if err := compiled.Validate(value); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			return flatten(ve)
		}
		return []ValidationError{{Path: "/", Message: err.Error()}}
	}
	return nil
}

func (v *Validator) compiled(kind, name string) (*jsonschema.Schema, error) {
	key := kind + "/" + name
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.cache[key]; ok {
		return s, nil
	}

	rel := path.Join(kind, name+".schema.json")
	doc, err := v.loadInlined(rel, map[string]bool{})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", rel, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "https://schemas.ocn.ai/" + rel
	if err := c.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("schema %s: %w", rel, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", rel, err)
	}
	v.cache[key] = s
	return s, nil
}

// loadInlined reads one schema file and replaces every relative $ref
// with the inlined target schema, $id and $schema stripped so the
// result compiles as a single resource. visiting guards against cycles.
func (v *Validator) loadInlined(rel string, visiting map[string]bool) (map[string]any, error) {
	if visiting[rel] {
		return nil, fmt.Errorf("schema %s: circular $ref", rel)
	}
	visiting[rel] = true
	defer delete(visiting, rel)

	raw, err := fs.ReadFile(v.fsys, rel)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", rel, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema %s: %w", rel, err)
	}

	inlined, err := v.inline(doc, path.Dir(rel), visiting)
	if err != nil {
		return nil, err
	}
	out := inlined.(map[string]any)
	delete(out, "$id")
	return out, nil
}

func (v *Validator) inline(node any, dir string, visiting map[string]bool) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if ref, ok := n["$ref"].(string); ok && !strings.HasPrefix(ref, "#") {
			target, err := v.loadInlined(path.Join(dir, ref), visiting)
			if err != nil {
				return nil, err
			}
			delete(target, "$schema")
			return target, nil
		}
		out := make(map[string]any, len(n))
		for k, child := range n {
			r, err := v.inline(child, dir, visiting)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(n))
		for i, child := range n {
			r, err := v.inline(child, dir, visiting)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return node, nil
	}
}

func flatten(ve *jsonschema.ValidationError) []ValidationError {
	if len(ve.Causes) == 0 {
		return []ValidationError{{
			Path:       instancePath(ve.InstanceLocation),
			Message:    ve.Message,
			SchemaPath: ve.KeywordLocation,
		}}
	}
	var out []ValidationError
	for _, c := range ve.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}

func instancePath(loc string) string {
	if loc == "" {
		return "/"
	}
	return loc
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

// toJSONValue normalizes doc (struct, map, or raw bytes) into the
// decoded-JSON representation the compiler validates.
func toJSONValue(doc any) (any, error) {
	switch d := doc.(type) {
	case nil:
		return nil, fmt.Errorf("nil document")
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(d, &out); err != nil {
			return nil, err
		}
		return out, nil
	case []byte:
		var out any
		if err := json.Unmarshal(d, &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}
