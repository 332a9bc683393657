package schema

// SkillInfo holds metadata about a single skill.
type SkillInfo struct {
	Name        string // skill name (directory or file stem)
	Path        string // absolute path to the skill markdown
	Description string // from YAML front matter, may be empty
}

// SkillLoader loads workspace skills into the system prompt.
// agent.SkillsLoader is the canonical implementation.
type SkillLoader interface {
	ListSkills() []SkillInfo
	LoadSkill(name string) string
	LoadSkillsForContext(names []string) string
}
