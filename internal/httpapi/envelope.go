package httpapi

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/relaycrm/internal/crm"
)

// envelopeSchema is the webhook body shape: {"data": record | [record, ...]}.
const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"data": {
			"anyOf": [
				{"type": "null"},
				{"type": "object"},
				{"type": "array", "items": {"type": "object"}}
			]
		}
	}
}`

const envelopeSchemaURL = "relaycrm://schemas/webhook-envelope.json"

// envelopeError is a client mistake in the webhook body. Its message is
// returned to the caller as is.
type envelopeError struct {
	message string
}

func (e *envelopeError) Error() string {
	return e.message
}

var errInvalidJSON = &envelopeError{message: "Invalid JSON body"}

type envelopeDecoder struct {
	schema *jsonschema.Schema
}

func newEnvelopeDecoder() (*envelopeDecoder, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(envelopeSchemaURL, doc); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, err
	}
	return &envelopeDecoder{schema: schema}, nil
}

// decode validates the envelope and returns its records. An absent, null
// or empty data field yields no records.
func (d *envelopeDecoder) decode(body []byte) ([]crm.Payload, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, errInvalidJSON
	}
	if err := d.schema.Validate(instance); err != nil {
		return nil, &envelopeError{message: "Invalid payload: " + validationMessage(err)}
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errInvalidJSON
	}
	return crm.DecodePayloads(envelope.Data)
}

// validationMessage flattens the validator's multi-line report.
func validationMessage(err error) string {
	var parts []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "; ")
}
