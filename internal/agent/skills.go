package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/blackcat-ai/blackcat/internal/schema"
)

// skillMeta is the YAML front matter of a skill file.
type skillMeta struct {
	Description string `yaml:"description"`
	Always      bool   `yaml:"always"`
	Requires    struct {
		Bins []string `yaml:"bins"`
		Env  []string `yaml:"env"`
	} `yaml:"requires"`
}

// SkillsLoader reads workspace skills. A skill is either skills/<name>.md or
// skills/<name>/SKILL.md; the flat file wins when both exist.
type SkillsLoader struct {
	skillsDir string
}

func NewSkillsLoader(workspace string) *SkillsLoader {
	return &SkillsLoader{skillsDir: filepath.Join(workspace, "skills")}
}

// ListSkills returns all skills found in the workspace, sorted by name.
func (sl *SkillsLoader) ListSkills() []schema.SkillInfo {
	entries, err := os.ReadDir(sl.skillsDir)
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var skills []schema.SkillInfo
	for _, e := range entries {
		var name, path string
		switch {
		case !e.IsDir() && strings.HasSuffix(e.Name(), ".md"):
			name = strings.TrimSuffix(e.Name(), ".md")
			path = filepath.Join(sl.skillsDir, e.Name())
		case e.IsDir():
			name = e.Name()
			path = filepath.Join(sl.skillsDir, name, "SKILL.md")
			if _, err := os.Stat(path); err != nil {
				continue
			}
		default:
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		meta := sl.meta(name)
		skills = append(skills, schema.SkillInfo{Name: name, Path: path, Description: meta.Description})
	}

	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

// LoadSkill returns the raw markdown of a skill, or "".
func (sl *SkillsLoader) LoadSkill(name string) string {
	if data, err := os.ReadFile(filepath.Join(sl.skillsDir, name+".md")); err == nil {
		return string(data)
	}
	if data, err := os.ReadFile(filepath.Join(sl.skillsDir, name, "SKILL.md")); err == nil {
		return string(data)
	}
	return ""
}

// LoadSkillsForContext renders the named skills for the system prompt,
// front matter stripped.
func (sl *SkillsLoader) LoadSkillsForContext(names []string) string {
	var parts []string
	for _, name := range names {
		content := sl.LoadSkill(name)
		if content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("### Skill: %s\n\n%s", name, stripFrontmatter(content)))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// AlwaysSkills returns skills marked always=true whose requirements are met.
func (sl *SkillsLoader) AlwaysSkills() []string {
	var out []string
	for _, s := range sl.ListSkills() {
		meta := sl.meta(s.Name)
		if meta.Always && requirementsMet(meta) {
			out = append(out, s.Name)
		}
	}
	return out
}

// BuildSkillsSummary renders the skill catalog for progressive loading.
func (sl *SkillsLoader) BuildSkillsSummary() string {
	all := sl.ListSkills()
	if len(all) == 0 {
		return ""
	}

	var b strings.Builder
	for _, s := range all {
		meta := sl.meta(s.Name)
		desc := meta.Description
		if desc == "" {
			desc = s.Name
		}
		fmt.Fprintf(&b, "- %s: %s (file: %s)", s.Name, desc, s.Path)
		if missing := missingRequirements(meta); missing != "" {
			fmt.Fprintf(&b, " [unavailable, requires %s]", missing)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (sl *SkillsLoader) meta(name string) skillMeta {
	content := sl.LoadSkill(name)
	if !strings.HasPrefix(content, "---") {
		return skillMeta{}
	}
	rest := content[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return skillMeta{}
	}

	var m skillMeta
	_ = yaml.Unmarshal([]byte(rest[:end]), &m)
	return m
}

func requirementsMet(m skillMeta) bool {
	return missingRequirements(m) == ""
}

func missingRequirements(m skillMeta) string {
	var missing []string
	for _, bin := range m.Requires.Bins {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, "CLI: "+bin)
		}
	}
	for _, env := range m.Requires.Env {
		if os.Getenv(env) == "" {
			missing = append(missing, "ENV: "+env)
		}
	}
	return strings.Join(missing, ", ")
}

// stripFrontmatter removes the leading --- … --- YAML block from markdown.
func stripFrontmatter(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}
	rest := content[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return content
	}
	return strings.TrimSpace(rest[end+4:])
}
