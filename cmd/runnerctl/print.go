package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/transcript"
)

const maxToolOutput = 2000

func printTranscript(w io.Writer, msgs []transcript.Message) {
	for _, m := range msgs {
		printMessage(w, m)
	}
}

func printMessage(w io.Writer, m transcript.Message) {
	switch m.Role {
	case domain.RoleTool:
		status := ""
		if m.IsBlocked {
			status = " (blocked)"
		}
		fmt.Fprintf(w, "[tool] %s%s\n", m.ToolName, status)
		if m.ToolInput != "" {
			fmt.Fprintf(w, "  input:  %s\n", indent(m.ToolInput))
		}
		if m.ToolOutput != "" {
			fmt.Fprintf(w, "  output: %s\n", indent(truncate(m.ToolOutput, maxToolOutput)))
		}
		if m.IsBlocked {
			fmt.Fprintf(w, "  %s\n", m.Content)
		}
	default:
		fmt.Fprintf(w, "[%s] %s\n", m.Role, m.Content)
	}
}

func indent(s string) string {
	return strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n          ")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
