package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://voxelinv.ai/schemas/"

var schemaFiles = map[string]string{
	TypeHello:           "hello.schema.json",
	TypeWelcome:         "welcome.schema.json",
	TypeMoveItem:        "move_item.schema.json",
	TypeMoveItemAmount:  "move_item_amount.schema.json",
	TypeMoveItemToSlots: "move_item_to_slots.schema.json",
	TypeInvState:        "inv_state.schema.json",
	TypeInvAck:          "inv_ack.schema.json",
	TypeError:           "error.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		for _, name := range schemaFiles {
			b, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(schemaBase+name, bytes.NewReader(b)); err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(schemaFiles))
		for typ, name := range schemaFiles {
			s, err := c.Compile(schemaBase + name)
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Schema returns the compiled schema for a message type.
func Schema(typ string) (*jsonschema.Schema, error) {
	all, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	s, ok := all[typ]
	if !ok {
		return nil, fmt.Errorf("no schema for message type %q", typ)
	}
	return s, nil
}

// Validate checks a raw message against the schema of its declared type and
// returns the decoded envelope.
func Validate(b []byte) (BaseMessage, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	s, err := Schema(base.Type)
	if err != nil {
		return base, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return base, fmt.Errorf("%s: %w", base.Type, err)
	}
	return base, nil
}
