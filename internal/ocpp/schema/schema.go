// Package schema implements the per-version request/response schema
// registry and validator (§4.B). JSON-Schema *library* choice is
// explicitly out of core scope (spec §1); since the retrieval pack
// carries no example that actually imports and drives a third-party
// JSON-Schema validator (the one indirect dependency that exists in
// the pack, google/jsonschema-go, is pulled in transitively by an
// unrelated MCP SDK and is never imported directly anywhere), this
// package implements the documented subset of JSON Schema draft
// structural validation directly — see DESIGN.md for the stdlib
// justification.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Node is a raw, mutable JSON-Schema document/subschema.
type Node = map[string]interface{}

// Result is the outcome of validating one payload against one schema.
type Result struct {
	Valid  bool
	Errors []string
}

func fail(errs ...string) Result {
	return Result{Valid: false, Errors: errs}
}

// NormalizeVersion maps the wire-level version spellings onto the
// canonical registry key ("1.6" and "1.6j" both mean 1.6J).
func NormalizeVersion(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1.6", "1.6j":
		return "1.6J"
	case "2.0.1":
		return "2.0.1"
	case "2.1":
		return "2.1"
	default:
		return v
	}
}

// Registry holds per-version request/response schemas and applies the
// additionalProperties-tightening rule at registration time.
type Registry struct {
	mu               sync.RWMutex
	request          map[string]map[string]Node
	response         map[string]map[string]Node
	tighteningAllow  map[string]bool
}

// NewRegistry creates an empty registry. allowlist names actions whose
// schemas are registered without the additionalProperties tightening.
// A nil allowlist means the default {DataTransfer}; an empty non-nil
// slice exempts no action.
func NewRegistry(allowlist []string) *Registry {
	if allowlist == nil {
		allowlist = []string{"DataTransfer"}
	}
	allow := make(map[string]bool, len(allowlist))
	for _, a := range allowlist {
		allow[a] = true
	}
	return &Registry{
		request:         make(map[string]map[string]Node),
		response:        make(map[string]map[string]Node),
		tighteningAllow: allow,
	}
}

// RegisterRequest loads a request schema for (version, action).
func (r *Registry) RegisterRequest(version, action string, raw []byte) error {
	return r.register(r.request, version, action, raw)
}

// RegisterResponse loads a response schema for (version, action).
func (r *Registry) RegisterResponse(version, action string, raw []byte) error {
	return r.register(r.response, version, action, raw)
}

func (r *Registry) register(into map[string]map[string]Node, version, action string, raw []byte) error {
	var node Node
	if err := json.Unmarshal(raw, &node); err != nil {
		return fmt.Errorf("schema/%s/%s: %w", version, action, err)
	}
	if !r.tighteningAllow[action] {
		tighten(node)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	v := NormalizeVersion(version)
	if into[v] == nil {
		into[v] = make(map[string]Node)
	}
	into[v][action] = node
	return nil
}

// HasRequestSchema reports whether action has a registered request schema for version.
func (r *Registry) HasRequestSchema(version, action string) bool {
	return r.has(r.request, version, action)
}

// HasResponseSchema reports whether action has a registered response schema for version.
func (r *Registry) HasResponseSchema(version, action string) bool {
	return r.has(r.response, version, action)
}

func (r *Registry) has(in map[string]map[string]Node, version, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := in[NormalizeVersion(version)]
	if !ok {
		return false
	}
	_, ok = m[action]
	return ok
}

// ValidateRequest validates payload against the registered request schema.
func (r *Registry) ValidateRequest(version, action string, payload []byte) Result {
	return r.validate(r.request, version, action, payload)
}

// ValidateResponse validates payload against the registered response schema.
func (r *Registry) ValidateResponse(version, action string, payload []byte) Result {
	return r.validate(r.response, version, action, payload)
}

func (r *Registry) validate(in map[string]map[string]Node, version, action string, payload []byte) Result {
	r.mu.RLock()
	m, ok := in[NormalizeVersion(version)]
	var node Node
	if ok {
		node, ok = m[action]
	}
	r.mu.RUnlock()

	if !ok {
		return fail("schema_missing")
	}

	var value interface{}
	if err := json.Unmarshal(payload, &value); err != nil {
		return fail("/ payload is not valid JSON: " + err.Error())
	}

	v := newValidator()
	v.validateNode(node, value, "")
	if len(v.errors) == 0 {
		return Result{Valid: true}
	}
	return Result{Valid: false, Errors: v.errors}
}

// tighten mutates node in place: every object schema that omits
// additionalProperties gets it set to false, recursively through the
// JSON-Schema composition keywords listed in §4.B.
func tighten(node interface{}) {
	m, isObj := node.(Node)
	if !isObj {
		if arr, isArr := node.([]interface{}); isArr {
			for _, el := range arr {
				tighten(el)
			}
		}
		return
	}

	isSchemaObjectType := false
	if t, ok := m["type"]; ok {
		if s, ok := t.(string); ok && s == "object" {
			isSchemaObjectType = true
		}
	}
	_, hasProperties := m["properties"]
	if (isSchemaObjectType || hasProperties) {
		if _, has := m["additionalProperties"]; !has {
			m["additionalProperties"] = false
		}
	}

	for _, key := range []string{"properties", "patternProperties", "$defs", "definitions", "dependentSchemas"} {
		if sub, ok := m[key].(Node); ok {
			for _, child := range sub {
				tighten(child)
			}
		}
	}
	for _, key := range []string{"items", "prefixItems", "propertyNames", "if", "then", "else", "not", "unevaluatedProperties", "unevaluatedItems"} {
		if sub, ok := m[key]; ok {
			tighten(sub)
		}
	}
	for _, key := range []string{"allOf", "anyOf", "oneOf"} {
		if arr, ok := m[key].([]interface{}); ok {
			for _, child := range arr {
				tighten(child)
			}
		}
	}
}

// validator walks a schema/value pair collecting RFC-ish error
// messages of the shape "<path> <message>" used throughout the OCPP
// CALLERROR contract (§4.B, §7).
type validator struct {
	errors []string
}

func newValidator() *validator { return &validator{} }

func (v *validator) addf(path, format string, args ...interface{}) {
	p := path
	if p == "" {
		p = "/"
	}
	v.errors = append(v.errors, fmt.Sprintf(p+" "+format, args...))
}

func (v *validator) validateNode(schema Node, value interface{}, path string) {
	if schema == nil {
		return
	}

	if enumVals, ok := schema["enum"].([]interface{}); ok {
		if !containsValue(enumVals, value) {
			v.addf(path, "must be one of the enumerated values")
		}
	}

	if t, ok := schema["type"].(string); ok {
		if !typeMatches(t, value) {
			v.addf(path, "must be of type %s", t)
			return
		}
	}

	switch typed := value.(type) {
	case map[string]interface{}:
		v.validateObject(schema, typed, path)
	case []interface{}:
		v.validateArray(schema, typed, path)
	case string:
		if minLen, ok := schema["minLength"].(float64); ok && float64(len(typed)) < minLen {
			v.addf(path, "must have minimum length %v", minLen)
		}
		if maxLen, ok := schema["maxLength"].(float64); ok && float64(len(typed)) > maxLen {
			v.addf(path, "must have maximum length %v", maxLen)
		}
	}

	for _, key := range []string{"allOf"} {
		if arr, ok := schema[key].([]interface{}); ok {
			for _, sub := range arr {
				if subSchema, ok := sub.(Node); ok {
					v.validateNode(subSchema, value, path)
				}
			}
		}
	}
}

func (v *validator) validateObject(schema Node, obj map[string]interface{}, path string) {
	if req, ok := schema["required"].([]interface{}); ok {
		missing := make([]string, 0)
		for _, r := range req {
			name, _ := r.(string)
			if _, present := obj[name]; !present {
				missing = append(missing, name)
			}
		}
		sort.Strings(missing)
		for _, name := range missing {
			v.addf(path, "must have required property '%s'", name)
		}
	}

	properties, _ := schema["properties"].(Node)
	for key, val := range obj {
		if properties != nil {
			if propSchema, ok := properties[key].(Node); ok {
				v.validateNode(propSchema, val, path+"/"+key)
				continue
			}
		}
		if additionalProps, ok := schema["additionalProperties"]; ok {
			if allowed, isBool := additionalProps.(bool); isBool && !allowed {
				v.addf(path, "must NOT have additional property '%s'", key)
			}
		}
	}
}

func (v *validator) validateArray(schema Node, arr []interface{}, path string) {
	itemSchema, _ := schema["items"].(Node)
	for i, el := range arr {
		if itemSchema != nil {
			v.validateNode(itemSchema, el, fmt.Sprintf("%s/%d", path, i))
		}
	}
	if minItems, ok := schema["minItems"].(float64); ok && float64(len(arr)) < minItems {
		v.addf(path, "must have at least %v items", minItems)
	}
}

func typeMatches(t string, value interface{}) bool {
	switch t {
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "null":
		return value == nil
	default:
		return true
	}
}

func containsValue(haystack []interface{}, needle interface{}) bool {
	for _, h := range haystack {
		if fmt.Sprint(h) == fmt.Sprint(needle) {
			return true
		}
	}
	return false
}
