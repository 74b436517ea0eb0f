package claude

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/zhongli1990/saas-codex/internal/llm"
	"github.com/zhongli1990/saas-codex/internal/sandbox"
)

// Tool names.
const (
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolListFiles = "list_files"
	ToolBash      = "bash"
)

func stringParam(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props, "required": required}
}

// ToolDefinitions are the tools offered to the model.
var ToolDefinitions = []llm.Tool{
	{Type: "function", Function: llm.ToolFunction{
		Name:        ToolReadFile,
		Description: "Read the contents of a file at the specified path",
		Parameters: objectSchema([]string{"path"}, map[string]any{
			"path": stringParam("File path relative to the working directory"),
		}),
	}},
	{Type: "function", Function: llm.ToolFunction{
		Name:        ToolWriteFile,
		Description: "Write content to a file at the specified path",
		Parameters: objectSchema([]string{"path", "content"}, map[string]any{
			"path":    stringParam("File path relative to the working directory"),
			"content": stringParam("Content to write to the file"),
		}),
	}},
	{Type: "function", Function: llm.ToolFunction{
		Name:        ToolListFiles,
		Description: "List files and directories at the specified path",
		Parameters: objectSchema([]string{"path"}, map[string]any{
			"path": stringParam("Directory path relative to the working directory"),
		}),
	}},
	{Type: "function", Function: llm.ToolFunction{
		Name:        ToolBash,
		Description: "Execute a bash command in the working directory",
		Parameters: objectSchema([]string{"command"}, map[string]any{
			"command": stringParam("The bash command to execute"),
		}),
	}},
}

// Toolbox executes tools inside one working directory.
type Toolbox struct {
	Root        string
	Workdir     string
	BashTimeout time.Duration
}

// Execute runs a tool and returns its result document. Failures are reported
// in the document, never as a Go error, so the model can react to them.
func (tb *Toolbox) Execute(ctx context.Context, name string, input map[string]any) map[string]any {
	result, err := tb.execute(ctx, name, input)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	return result
}

func (tb *Toolbox) execute(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	switch name {
	case ToolReadFile:
		path, err := tb.resolve(input)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "content": string(data)}, nil

	case ToolWriteFile:
		path, err := tb.resolve(input)
		if err != nil {
			return nil, err
		}
		content, _ := input["content"].(string)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "message": fmt.Sprintf("Wrote %d bytes to %s", len(content), input["path"])}, nil

	case ToolListFiles:
		path, err := tb.resolve(input)
		if err != nil {
			return nil, err
		}
		dirEntries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		entries := make([]map[string]string, 0, len(dirEntries))
		for _, e := range dirEntries {
			kind := "file"
			if e.IsDir() {
				kind = "directory"
			}
			entries = append(entries, map[string]string{"name": e.Name(), "type": kind})
		}
		return map[string]any{"success": true, "entries": entries}, nil

	case ToolBash:
		command, _ := input["command"].(string)
		if command == "" {
			return nil, errors.New("command is required")
		}
		return tb.bash(ctx, command)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (tb *Toolbox) resolve(input map[string]any) (string, error) {
	path, _ := input["path"].(string)
	if path == "" {
		path = "."
	}
	return sandbox.Join(tb.Root, tb.Workdir, path)
}

func (tb *Toolbox) bash(ctx context.Context, command string) (map[string]any, error) {
	timeout := tb.BashTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = tb.Workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		exitCode = exitErr.ExitCode()
	}
	return map[string]any{
		"success":   exitCode == 0,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}, nil
}
