package agent

import (
	"strings"
	"testing"
)

func TestListSkillsFlatAndDirectory(t *testing.T) {
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "skills/weather.md", "---\ndescription: check the weather\n---\n\nUse the forecast API.")
	writeWorkspaceFile(t, workspace, "skills/news/SKILL.md", "---\ndescription: read the news\n---\n\nFetch headlines.")
	writeWorkspaceFile(t, workspace, "skills/ignored.txt", "not a skill")

	sl := NewSkillsLoader(workspace)
	skills := sl.ListSkills()
	if len(skills) != 2 {
		t.Fatalf("found %d skills, want 2", len(skills))
	}
	if skills[0].Name != "news" || skills[1].Name != "weather" {
		t.Errorf("skills = %v, want sorted [news weather]", []string{skills[0].Name, skills[1].Name})
	}
	if skills[1].Description != "check the weather" {
		t.Errorf("description = %q", skills[1].Description)
	}
}

func TestLoadSkillsForContextStripsFrontmatter(t *testing.T) {
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "skills/weather.md", "---\ndescription: check the weather\n---\n\nUse the forecast API.")

	sl := NewSkillsLoader(workspace)
	out := sl.LoadSkillsForContext([]string{"weather", "missing"})

	if !strings.Contains(out, "### Skill: weather") || !strings.Contains(out, "Use the forecast API.") {
		t.Errorf("rendered skill incomplete: %q", out)
	}
	if strings.Contains(out, "description:") {
		t.Error("front matter leaked into the context")
	}
}

func TestAlwaysSkillsRespectRequirements(t *testing.T) {
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "skills/core.md", "---\nalways: true\n---\n\nAlways loaded.")
	writeWorkspaceFile(t, workspace, "skills/gated.md", "---\nalways: true\nrequires:\n  env: [BLACKCAT_TEST_MISSING_ENV]\n---\n\nNeeds an env var.")
	writeWorkspaceFile(t, workspace, "skills/optional.md", "Loaded on demand.")

	sl := NewSkillsLoader(workspace)
	always := sl.AlwaysSkills()
	if len(always) != 1 || always[0] != "core" {
		t.Errorf("AlwaysSkills = %v, want [core]", always)
	}
}

func TestBuildSkillsSummaryMarksUnavailable(t *testing.T) {
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "skills/gated.md", "---\ndescription: gated skill\nrequires:\n  bins: [definitely-not-a-real-binary]\n---\n\nBody.")

	sl := NewSkillsLoader(workspace)
	summary := sl.BuildSkillsSummary()
	if !strings.Contains(summary, "gated skill") {
		t.Errorf("summary missing description: %q", summary)
	}
	if !strings.Contains(summary, "unavailable") {
		t.Errorf("missing requirement not flagged: %q", summary)
	}
}

func TestBuildSkillsSummaryEmptyWorkspace(t *testing.T) {
	sl := NewSkillsLoader(t.TempDir())
	if got := sl.BuildSkillsSummary(); got != "" {
		t.Errorf("summary for empty workspace = %q", got)
	}
}
