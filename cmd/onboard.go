package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackcat-ai/blackcat/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize configuration and workspace",
	RunE:  runOnboard,
}

func runOnboard(_ *cobra.Command, _ []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Config already exists at %s\n", cfgPath)
		fmt.Printf("Press Enter to refresh (keep existing values) or Ctrl+C to cancel: ")
		fmt.Scanln()
		existing, loadErr := config.Load(cfgPath)
		if loadErr != nil {
			def := config.DefaultConfig()
			existing = &def
		}
		if err := config.Save(existing, cfgPath); err != nil {
			return err
		}
		fmt.Printf("✓ Config refreshed at %s\n", cfgPath)
	} else {
		cfg := config.DefaultConfig()
		if err := config.Save(&cfg, cfgPath); err != nil {
			return err
		}
		fmt.Printf("✓ Created config at %s\n", cfgPath)
	}

	def := config.DefaultConfig()
	workspace := def.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	fmt.Printf("✓ Workspace at %s\n", workspace)

	createWorkspaceTemplates(workspace)

	fmt.Printf("\n%s blackcat is ready!\n\n", logo)
	fmt.Println("Next steps:")
	fmt.Printf("  1. Add your API key to %s\n", cfgPath)
	fmt.Println("     Get one at: https://openrouter.ai/keys")
	fmt.Printf("  2. Chat: blackcat agent -m \"Hello!\"\n")
	fmt.Printf("  3. Run the gateway: blackcat gateway\n")
	return nil
}

func createWorkspaceTemplates(workspace string) {
	templates := map[string]string{
		"SOUL.md": `# Soul

I am blackcat, a personal always-on AI agent.

## Personality

- Helpful and direct
- Concise and to the point
- Curious and eager to learn

## Values

- Accuracy over speed
- User privacy and safety
- Transparency in actions
`,
		"IDENTITY.toml": `# Persona traits, trust policy and autonomy grants.

[persona]
name = "blackcat"
role = "personal assistant"

# Trust scores are 0.0-1.0: >=0.9 trusted, >0.7 high, >0.4 moderate.
[trust]
default = 0.3
# [trust.known]
# "12345" = 1.0

# [autonomy]
# free = ["read_file", "web_search"]
# requires_confirmation = ["exec", "write_file"]
`,
		"USER.toml": `# Information about the user.

[user]
# name = ""
# timezone = ""
# language = ""
`,
		"AGENTS.toml": `# Operating rules the agent must follow.

[rules]
# confirm_before = ["exec", "write_file"]
`,
		"HEARTBEAT.toml": `# Background tasks reviewed on each heartbeat.
# Move finished entries to [tasks.completed].

[tasks]

# [[tasks.active]]
# task = "Check the build dashboard"
`,
	}

	for filename, content := range templates {
		p := filepath.Join(workspace, filename)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			_ = os.WriteFile(p, []byte(content), 0o644)
			fmt.Printf("  Created %s\n", filename)
		}
	}

	memDir := filepath.Join(workspace, "memory")
	_ = os.MkdirAll(memDir, 0o755)

	memFile := filepath.Join(memDir, "MEMORY.md")
	if _, err := os.Stat(memFile); os.IsNotExist(err) {
		_ = os.WriteFile(memFile, []byte(`# Long-term Memory

This file stores important information that should persist across sessions.

## User Information

(Important facts about the user)

## Preferences

(User preferences learned over time)
`), 0o644)
		fmt.Println("  Created memory/MEMORY.md")
	}

	_ = os.MkdirAll(filepath.Join(workspace, "skills"), 0o755)
	_ = os.MkdirAll(filepath.Join(workspace, "media"), 0o755)
}
