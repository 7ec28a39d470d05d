package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// Compiled once at init; the gateway validates every inbound message
// against these before decoding into structs.
var (
	helloSchema   = mustCompile("hello.schema.json")
	commandSchema = mustCompile("command.schema.json")
)

func mustCompile(name string) *jsonschema.Schema {
	raw, err := schemaFiles.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("protocol: read schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("protocol: add schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("protocol: compile schema %s: %v", name, err))
	}
	return s
}

func validateRaw(s *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return s.Validate(v)
}

// ValidateHello checks a raw HELLO message against its schema.
func ValidateHello(raw []byte) error { return validateRaw(helloSchema, raw) }

// ValidateCommand checks a raw COMMAND message against its schema. Clients
// that stamp server-minted fields (origin, tick) fail here.
func ValidateCommand(raw []byte) error { return validateRaw(commandSchema, raw) }
