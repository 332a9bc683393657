package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// TrustLevel is the qualitative bucket derived from a numeric trust score.
type TrustLevel string

const (
	TrustUnknown  TrustLevel = "unknown"
	TrustLow      TrustLevel = "low"
	TrustModerate TrustLevel = "moderate"
	TrustHigh     TrustLevel = "high"
	TrustTrusted  TrustLevel = "trusted"
)

// internalSections are identity TOML sections kept out of the system prompt.
var internalSections = map[string]bool{
	"state":      true,
	"continuity": true,
	"allegories": true,
}

// Identity is the parsed IDENTITY.toml: persona traits, trust policy and
// autonomy grants. A nil or empty Identity behaves as fully unknown.
type Identity struct {
	raw map[string]any
}

// LoadIdentity reads workspace/IDENTITY.toml. A missing file yields an empty
// Identity; a malformed one is an error so misconfiguration is visible.
func LoadIdentity(workspace string) (*Identity, error) {
	path := filepath.Join(workspace, "IDENTITY.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Identity{raw: map[string]any{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Identity{raw: raw}, nil
}

// TrustScore returns the numeric trust score for author. The second result
// is false when no [trust] section exists at all.
func (id *Identity) TrustScore(author string) (float64, bool) {
	trust, ok := id.section("trust")
	if !ok {
		return 0, false
	}

	if known, ok := trust["known"].(map[string]any); ok {
		for name, v := range known {
			if strings.EqualFold(name, author) {
				return toFloat(v), true
			}
		}
	}
	if def, ok := trust["default"]; ok {
		return toFloat(def), true
	}
	return 0, true
}

// TrustLevelFor maps an author to a trust level.
func (id *Identity) TrustLevelFor(author string) TrustLevel {
	score, ok := id.TrustScore(author)
	if !ok {
		return TrustUnknown
	}
	return levelFromScore(score)
}

func levelFromScore(score float64) TrustLevel {
	switch {
	case score >= 0.9:
		return TrustTrusted
	case score > 0.7:
		return TrustHigh
	case score > 0.4:
		return TrustModerate
	default:
		return TrustLow
	}
}

// AllowedTools returns the autonomous and confirmation-required action lists
// for author. Trusted authors get the union of both lists as autonomous.
func (id *Identity) AllowedTools(author string) (autonomous, confirmationRequired []string) {
	autonomy, ok := id.section("autonomy")
	if !ok {
		return nil, nil
	}

	free := enabledActions(autonomy["free"])
	confirm := enabledActions(autonomy["requires_confirmation"])

	if id.TrustLevelFor(author) == TrustTrusted {
		merged := append(append([]string{}, free...), confirm...)
		sort.Strings(merged)
		return merged, nil
	}
	sort.Strings(free)
	sort.Strings(confirm)
	return free, confirm
}

// RenderPersona renders the identity document for the system prompt.
// Trait scores become qualitative labels; internal sections are skipped.
func (id *Identity) RenderPersona() string {
	if len(id.raw) == 0 {
		return ""
	}

	names := make([]string, 0, len(id.raw))
	for name := range id.raw {
		if internalSections[name] || name == "trust" || name == "autonomy" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("## Identity\n")
	for _, name := range names {
		section, ok := id.raw[name].(map[string]any)
		if !ok {
			fmt.Fprintf(&b, "\n- %s: %v\n", name, id.raw[name])
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n", name)
		for _, key := range sortedKeys(section) {
			v := section[key]
			if name == "traits" {
				fmt.Fprintf(&b, "- %s: %s\n", key, traitLabel(toFloat(v)))
			} else {
				fmt.Fprintf(&b, "- %s: %v\n", key, v)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// traitLabel maps a trait weight to a qualitative label.
func traitLabel(v float64) string {
	switch {
	case v > 0.7:
		return "high"
	case v > 0.4:
		return "moderate"
	default:
		return "low"
	}
}

func (id *Identity) section(name string) (map[string]any, bool) {
	if id == nil || id.raw == nil {
		return nil, false
	}
	s, ok := id.raw[name].(map[string]any)
	return s, ok
}

// enabledActions extracts the action names mapped to true in a TOML table.
func enabledActions(v any) []string {
	table, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	var out []string
	for action, enabled := range table {
		if b, ok := enabled.(bool); ok && b {
			out = append(out, action)
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
