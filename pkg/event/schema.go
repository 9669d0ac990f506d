package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// authEventSchema is the shape gate for raw payloads. Enum membership for
// endpoint is deliberately left to Parse so path-style aliases ("/login")
// survive this layer.
const authEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["timestamp_ms", "ip_address", "user_agent", "endpoint", "method", "outcome"],
  "properties": {
    "event_id":           {"type": "string"},
    "timestamp_ms":       {"type": "integer", "minimum": 1},
    "user_id":            {"type": ["string", "null"]},
    "username":           {"type": ["string", "null"]},
    "ip_address":         {"type": "string", "minLength": 1},
    "asn":                {"type": ["integer", "null"], "minimum": 0},
    "country":            {"type": ["string", "null"], "maxLength": 8},
    "user_agent":         {"type": "string", "minLength": 1},
    "device_fingerprint": {"type": ["string", "null"]},
    "endpoint":           {"type": "string", "minLength": 1},
    "method":             {"type": "string"},
    "outcome":            {"type": "string"},
    "failure_reason":     {"type": ["string", "null"]},
    "latency_ms":         {"type": ["number", "null"], "minimum": 0, "maximum": 120000},
    "ingest_source":      {"type": ["string", "null"]},
    "replay_id":          {"type": ["string", "null"]}
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("authevent.json", strings.NewReader(authEventSchema)); err != nil {
		panic("event: add schema resource: " + err.Error())
	}
	s, err := c.Compile("authevent.json")
	if err != nil {
		panic("event: compile schema: " + err.Error())
	}
	return s
}

// validateShape runs the JSON Schema gate over the raw payload.
func validateShape(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return invalid("", "malformed JSON: "+err.Error())
	}
	if err := compiledSchema.Validate(v); err != nil {
		return invalid("", schemaMessage(err))
	}
	return nil
}

// schemaMessage flattens a jsonschema validation error into one line.
func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
		if loc == "" {
			return leaf.Message
		}
		return loc + ": " + leaf.Message
	}
	return err.Error()
}
