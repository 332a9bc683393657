package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const shellOutputLimit = 10000

// denyPatterns block commands that are destructive regardless of workspace
// restriction. The list is a safety net, not a sandbox.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*\s+)*(/|~)(\s|$)`),
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`(?i):\(\)\s*\{\s*:\|:&\s*\}\s*;`),
	regexp.MustCompile(`(?i)\bshutdown\b|\breboot\b|\bhalt\b`),
	regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]`),
}

var absolutePathPattern = regexp.MustCompile(`(?:^|[\s='"])(/[^\s'";|&<>]*)`)

// ExecTool runs shell commands with a timeout and truncated output.
type ExecTool struct {
	workspace string
	restrict  bool
	timeout   time.Duration
}

// NewExecTool creates an ExecTool rooted at workspace. When restrict is true,
// commands referencing absolute paths outside the workspace are refused.
func NewExecTool(workspace string, restrict bool, timeout time.Duration) *ExecTool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ExecTool{workspace: workspace, restrict: restrict, timeout: timeout}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command in the workspace and return its combined output."
}

func (t *ExecTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to execute"},
			"working_dir": {"type": "string", "description": "Optional working directory (defaults to the workspace)"}
		},
		"required": ["command"]
	}`)
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return "Error: command must not be empty", nil
	}

	if msg := t.guardCommand(command); msg != "" {
		return msg, nil
	}

	workDir := t.workspace
	if wd, _ := args["working_dir"].(string); wd != "" {
		resolved, err := newPathResolver(t.workspace, t.restrict).resolve(wd)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		workDir = resolved
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = workDir
	out, err := cmd.CombinedOutput()

	result := strings.TrimRight(string(out), "\n")
	if len(result) > shellOutputLimit {
		result = result[:shellOutputLimit] + "\n... (output truncated)"
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: command timed out after %s\n%s", t.timeout, result), nil
	}
	if err != nil {
		if result == "" {
			return fmt.Sprintf("Error: %v", err), nil
		}
		return fmt.Sprintf("Command failed (%v):\n%s", err, result), nil
	}
	if result == "" {
		return "(no output)", nil
	}
	return result, nil
}

// guardCommand returns a refusal message for denied or escaping commands.
func (t *ExecTool) guardCommand(command string) string {
	for _, p := range denyPatterns {
		if p.MatchString(command) {
			return "Error: command blocked by safety policy"
		}
	}
	if !t.restrict {
		return ""
	}
	if strings.Contains(command, "..") {
		return "Error: path traversal is not allowed in restricted mode"
	}
	for _, p := range extractAbsolutePaths(command) {
		clean := filepath.Clean(p)
		if clean != t.workspace && !strings.HasPrefix(clean, t.workspace+string(filepath.Separator)) {
			// Common read-only system prefixes stay usable for tooling.
			if strings.HasPrefix(clean, "/usr/") || strings.HasPrefix(clean, "/bin/") ||
				strings.HasPrefix(clean, "/tmp/") || clean == "/tmp" ||
				strings.HasPrefix(clean, "/dev/null") {
				continue
			}
			return fmt.Sprintf("Error: path %s is outside the workspace", clean)
		}
	}
	return ""
}

// extractAbsolutePaths pulls absolute path tokens out of a shell command.
func extractAbsolutePaths(command string) []string {
	var out []string
	for _, m := range absolutePathPattern.FindAllStringSubmatch(command, -1) {
		if len(m) > 1 && m[1] != "/" {
			out = append(out, m[1])
		}
	}
	return out
}
