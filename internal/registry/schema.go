package registry

import (
	"fmt"

	"github.com/pulsegrid/mcpcore/internal/rpc"
)

// ValidateArgs checks args against the narrow JSON-Schema subset tools
// declare (object/properties/required/type/enum). A full third-party
// validator was deliberately not pulled in for this subset — see
// DESIGN.md for the tradeoff — but the shape mirrors what one would
// produce (a single Validate(schema, value) entry point returning the
// first violation).
func ValidateArgs(schema rpc.InputSchema, args map[string]any) error {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required property %q", name)
		}
	}
	for name, value := range args {
		prop, declared := schema.Properties[name]
		if !declared {
			continue // additionalProperties are permitted by default
		}
		if err := validateValue(name, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(name string, prop rpc.PropertySchema, value any) error {
	if value == nil {
		return nil
	}
	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("property %q must be a string", name)
		}
		if len(prop.Enum) > 0 && !contains(prop.Enum, s) {
			return fmt.Errorf("property %q must be one of %v", name, prop.Enum)
		}
	case "number", "integer":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("property %q must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("property %q must be a boolean", name)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("property %q must be an array", name)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("property %q must be an object", name)
		}
	case "":
		// untyped property: accept anything
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
