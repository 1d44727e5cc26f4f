package sandbox

import (
	"context"
	"time"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// Skill is a deterministic named helper function exposed to pipelines
// under "skills.<name>". Skills receive plain arguments and never touch a
// live connection, a file, or the network directly — that narrowness is
// what keeps them safe to expose to agent-authored pipelines.
type Skill func(args map[string]any) (any, error)

// Registry holds the named skill set for one deployment.
type Registry struct {
	skills map[string]Skill
}

func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

func (r *Registry) Register(name string, s Skill) {
	r.skills[name] = s
}

// Reducer adapts the registry into a sandbox.Reducer for StepSkill, reading
// the skill name from args["name"] and passing args["args"] through.
func (r *Registry) Reducer() Reducer {
	return func(_ context.Context, args map[string]any, _ map[string]any, _ *Budget) (any, error) {
		name, _ := args["name"].(string)
		skill, ok := r.skills[name]
		if !ok {
			return nil, mcperrors.New(mcperrors.NotFound, "unknown skill %q", name)
		}
		skillArgs, _ := args["args"].(map[string]any)
		return skill(skillArgs)
	}
}

// DefaultSkills returns a small set of deterministic helpers useful as
// pipeline building blocks without a database round-trip. The set is a
// starting registry, not a fixed catalog.
func DefaultSkills() map[string]Skill {
	return map[string]Skill{
		"now": func(map[string]any) (any, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},
		"count": func(args map[string]any) (any, error) {
			rows, _ := args["rows"].([]map[string]any)
			return len(rows), nil
		},
	}
}
