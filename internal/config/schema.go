package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema of the config file, indented.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
		DoNotReference:            true,
	}
	s := r.Reflect(&Config{})
	s.Title = "wqbot configuration"
	return json.MarshalIndent(s, "", "  ")
}
