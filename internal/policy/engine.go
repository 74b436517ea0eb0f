// Package policy evaluates tool invocations against a Rego policy.
package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Input is the document a tool invocation is evaluated against.
type Input struct {
	ToolName       string         `json:"tool_name"`
	ToolInput      map[string]any `json:"tool_input"`
	WorkspacesRoot string         `json:"workspaces_root"`
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Allow   bool
	Reasons []string
}

// Reason returns the first deny reason, or "" when allowed.
func (d Decision) Reason() string {
	if len(d.Reasons) == 0 {
		return ""
	}
	return d.Reasons[0]
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.result"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks one tool invocation.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	if input.ToolInput == nil {
		input.ToolInput = map[string]any{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: true}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}

	var d Decision
	d.Allow = obj["decision"] == "allow"
	if reasons, ok := obj["reasons"].([]interface{}); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				d.Reasons = append(d.Reasons, s)
			}
		}
	}
	sort.Strings(d.Reasons)
	return d, nil
}

// DefaultPolicy blocks destructive shell commands and file paths that
// escape the workspaces root.
const DefaultPolicy = `
package tool_policy

import rego.v1

blocked_bash_patterns := [
	"rm -rf /",
	"rm -rf /*",
	"sudo rm",
	"chmod 777 /",
	"chown root",
	"> /dev/sda",
	"mkfs.",
	"dd if=",
	":(){:|:&};:",
	"curl | bash",
	"wget | bash",
	"curl | sh",
	"wget | sh",
]

path_escape_patterns := ["../", "..\\"]

bash_tools := {"bash", "Bash"}

file_tools := {"read_file", "write_file", "list_files", "Read", "Write", "Edit"}

default decision := "allow"

decision := "block" if count(deny) > 0

result := {"decision": decision, "reasons": deny}

paths contains p if {
	some key in ["path", "file_path"]
	p := object.get(input.tool_input, key, "")
	p != ""
}

deny contains reason if {
	input.tool_name in bash_tools
	command := object.get(input.tool_input, "command", "")
	some pattern in blocked_bash_patterns
	contains(command, pattern)
	reason := sprintf("Blocked dangerous pattern: %s", [pattern])
}

deny contains reason if {
	input.tool_name in file_tools
	some p in paths
	some pattern in path_escape_patterns
	contains(p, pattern)
	reason := sprintf("Path escape attempt blocked: %s", [pattern])
}

deny contains "Absolute paths outside the workspaces root are not allowed" if {
	input.tool_name in file_tools
	some p in paths
	startswith(p, "/")
	not within_root(p)
}

within_root(p) if p == input.workspaces_root

within_root(p) if startswith(p, concat("", [input.workspaces_root, "/"]))
`
