package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"aldea.world/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	commandSchema := compile("command.schema.json")
	tickSchema := compile("tick.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "client_name":"viewer-1",
	  "subscribe":["agent.died","resource.gathered"]
	}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "session_id":"s-9f2c",
	  "world_id":"aldea-1",
	  "tick":42,
	  "world_params":{
	    "tick_interval_ms":200,
	    "width":2000,
	    "height":2000,
	    "cell_size":70,
	    "seed":1,
	    "day_length_s":240
	  }
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var command any
	_ = json.Unmarshal([]byte(`{
	  "type":"COMMAND",
	  "protocol_version":"1.0",
	  "cmd_id":"c-17",
	  "command":{
	    "kind":"GATHER_RESOURCE",
	    "gather":{"agent_id":"a-3","node_id":"r-8","amount":10}
	  }
	}`), &command)
	validate(commandSchema, command)

	var deltaCommand any
	_ = json.Unmarshal([]byte(`{
	  "type":"COMMAND",
	  "protocol_version":"1.0",
	  "command":{
	    "kind":"APPLY_RESOURCE_DELTA",
	    "resource_delta":{"deltas":{"wood":5,"stone":-2.5}}
	  }
	}`), &deltaCommand)
	validate(commandSchema, deltaCommand)

	var tick any
	_ = json.Unmarshal([]byte(`{
	  "type":"TICK",
	  "protocol_version":"1.0",
	  "world_id":"aldea-1",
	  "tick":43,
	  "time_scale":1,
	  "clock":{"day":0,"time_of_day":0.035},
	  "digest":"deadbeef",
	  "agents":12,
	  "animals":8,
	  "resources":24,
	  "events":[
	    {"type":"resource.gathered","tick":43,"payload":{"agent_id":"a-3","node_id":"r-8","amount":10}}
	  ]
	}`), &tick)
	validate(tickSchema, tick)
}

func TestValidateCommand_RejectsServerFields(t *testing.T) {
	good := `{"type":"COMMAND","protocol_version":"1.0","command":{"kind":"PING"}}`
	if err := protocol.ValidateCommand([]byte(good)); err != nil {
		t.Fatalf("valid command rejected: %v", err)
	}

	// The server mints origin and tick; clients may not set them.
	bad := []string{
		`{"type":"COMMAND","protocol_version":"1.0","command":{"kind":"PING","tick":5}}`,
		`{"type":"COMMAND","protocol_version":"1.0","command":{"kind":"PING","origin":"spoofed"}}`,
		`{"type":"COMMAND","protocol_version":"1.0","command":{}}`,
		`{"type":"COMMAND","protocol_version":"1.0"}`,
		`{"type":"COMMAND","protocol_version":"1.0","command":`,
	}
	for _, raw := range bad {
		if err := protocol.ValidateCommand([]byte(raw)); err == nil {
			t.Fatalf("expected rejection: %s", raw)
		}
	}
}

func TestValidateHello(t *testing.T) {
	good := `{"type":"HELLO","protocol_version":"1.0"}`
	if err := protocol.ValidateHello([]byte(good)); err != nil {
		t.Fatalf("valid hello rejected: %v", err)
	}
	bad := `{"type":"HELLO","protocol_version":"1.0","resume_token":"x"}`
	if err := protocol.ValidateHello([]byte(bad)); err == nil {
		t.Fatalf("expected unknown field rejected")
	}
}
