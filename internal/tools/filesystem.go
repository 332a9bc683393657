package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// pathResolver confines file access to an allowed root when restriction is
// enabled. Symlinks are resolved before the containment check so a link
// inside the workspace cannot point out of it.
type pathResolver struct {
	allowedDir string
	restrict   bool
}

func newPathResolver(allowedDir string, restrict bool) *pathResolver {
	return &pathResolver{allowedDir: allowedDir, restrict: restrict}
}

// resolve returns the absolute path for p, or an error when restriction is
// on and the resolved path escapes the allowed root. Relative paths resolve
// against the allowed root, never the process working directory.
func (pr *pathResolver) resolve(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(pr.allowedDir, p)
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", p, err)
	}
	if !pr.restrict {
		return abs, nil
	}

	root, err := filepath.EvalSymlinks(pr.allowedDir)
	if err != nil {
		// Allowed root must exist for restriction to mean anything.
		return "", fmt.Errorf("resolve allowed dir: %w", err)
	}

	// Resolve the deepest existing ancestor so symlinked parents are
	// checked even when the target file does not exist yet.
	probe := abs
	for {
		if _, err := os.Lstat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}
	resolvedProbe, err := filepath.EvalSymlinks(probe)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", p, err)
	}
	resolved := filepath.Join(resolvedProbe, strings.TrimPrefix(abs, probe))

	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the allowed directory", p)
	}
	return resolved, nil
}

// ─── read_file ─────────────────────────────────────────────────────

// ReadFileTool reads a file from disk.
type ReadFileTool struct {
	resolver *pathResolver
}

func NewReadFileTool(allowedDir string, restrict bool) *ReadFileTool {
	return &ReadFileTool{resolver: newPathResolver(allowedDir, restrict)}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the given path."
}

func (t *ReadFileTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path to the file to read"}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	resolved, err := t.resolver.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// ─── write_file ────────────────────────────────────────────────────

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct {
	resolver *pathResolver
}

func NewWriteFileTool(allowedDir string, restrict bool) *WriteFileTool {
	return &WriteFileTool{resolver: newPathResolver(allowedDir, restrict)}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating it (and parent directories) if needed. Overwrites existing content."
}

func (t *WriteFileTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path to the file to write"},
			"content": {"type": "string", "description": "Content to write"}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)

	resolved, err := t.resolver.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs for %s: %w", path, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// ─── edit_file ─────────────────────────────────────────────────────

// EditFileTool replaces an exact text span in a file. The old text must
// match exactly once; zero or multiple matches leave the file untouched.
type EditFileTool struct {
	resolver *pathResolver
}

func NewEditFileTool(allowedDir string, restrict bool) *EditFileTool {
	return &EditFileTool{resolver: newPathResolver(allowedDir, restrict)}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Replace an exact text snippet in a file. The old text must appear exactly once."
}

func (t *EditFileTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path to the file to edit"},
			"old_text": {"type": "string", "description": "Exact text to replace"},
			"new_text": {"type": "string", "description": "Replacement text"}
		},
		"required": ["path", "old_text", "new_text"]
	}`)
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)

	resolved, err := t.resolver.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)

	switch n := strings.Count(content, oldText); {
	case oldText == "":
		return "Error: old_text must not be empty", nil
	case n == 0:
		return editNotFoundMessage(content, oldText), nil
	case n > 1:
		return fmt.Sprintf("Error: old_text appears %d times in %s; include more surrounding context to make it unique", n, path), nil
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Edited %s", path), nil
}

// editNotFoundMessage explains a failed match, pointing at the closest line
// in the file when one is reasonably similar.
func editNotFoundMessage(content, oldText string) string {
	needle := strings.TrimSpace(firstLine(oldText))
	best, bestScore := "", 0.0
	for _, line := range strings.Split(content, "\n") {
		if score := similarityRatio(strings.TrimSpace(line), needle); score > bestScore {
			best, bestScore = line, score
		}
	}
	msg := "Error: old_text not found in file"
	if bestScore >= 0.5 {
		msg += fmt.Sprintf("; closest line is %q", strings.TrimSpace(best))
	}
	return msg + ". Whitespace and indentation must match exactly."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// similarityRatio is a cheap bigram overlap in [0, 1].
func similarityRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}
	grams := func(s string) map[string]int {
		m := make(map[string]int)
		for i := 0; i+2 <= len(s); i++ {
			m[s[i:i+2]]++
		}
		return m
	}
	ga, gb := grams(a), grams(b)
	overlap, total := 0, 0
	for g, n := range ga {
		total += n
		if m := gb[g]; m < n {
			overlap += m
		} else {
			overlap += n
		}
	}
	for _, n := range gb {
		total += n
	}
	if total == 0 {
		return 0
	}
	return float64(2*overlap) / float64(total)
}

// ─── list_dir ──────────────────────────────────────────────────────

// ListDirTool lists directory entries, directories first.
type ListDirTool struct {
	resolver *pathResolver
}

func NewListDirTool(allowedDir string, restrict bool) *ListDirTool {
	return &ListDirTool{resolver: newPathResolver(allowedDir, restrict)}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the entries of a directory."
}

func (t *ListDirTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path to the directory to list"}
		},
		"required": ["path"]
	}`)
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	resolved, err := t.resolver.resolve(path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
		} else {
			info, err := e.Info()
			if err != nil {
				fmt.Fprintf(&b, "%s\n", e.Name())
				continue
			}
			fmt.Fprintf(&b, "%s (%d bytes)\n", e.Name(), info.Size())
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
