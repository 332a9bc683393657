package tools

import (
	"time"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/config"
	"github.com/blackcat-ai/blackcat/internal/schema"
)

// BuilderDeps carries the collaborators the standard tool set needs.
// Optional fields may be nil; the corresponding tools are then omitted.
type BuilderDeps struct {
	Bus     bus.Bus
	Spawner schema.Spawner
	Cron    schema.CronService
	Memory  schema.MemoryService
}

// BuildRegistry assembles the full built-in tool set from config.
func BuildRegistry(cfg *config.Config, deps BuilderDeps) *Registry {
	workspace := cfg.WorkspacePath()
	restrict := cfg.Tools.RestrictToWorkspace

	r := NewRegistry(
		NewReadFileTool(workspace, restrict),
		NewWriteFileTool(workspace, restrict),
		NewEditFileTool(workspace, restrict),
		NewListDirTool(workspace, restrict),
		NewExecTool(workspace, restrict, time.Duration(cfg.Tools.Exec.Timeout)*time.Second),
		NewWebFetchTool(0),
	)

	if cfg.Tools.Web.Search.APIKey != "" {
		r.Register(NewWebSearchTool(cfg.Tools.Web.Search.APIKey, cfg.Tools.Web.Search.MaxResults))
	}
	if deps.Bus != nil {
		r.Register(NewMessageTool(deps.Bus))
	}
	if deps.Spawner != nil {
		r.Register(NewSpawnTool(deps.Spawner))
	}
	if deps.Cron != nil {
		r.Register(NewCronTool(deps.Cron))
	}
	if deps.Memory != nil {
		r.Register(NewMemoryTool(deps.Memory))
	}
	return r
}

// BuildRestrictedRegistry assembles the reduced tool set for subagents:
// no message, spawn or cron tools, so background tasks cannot recurse or
// talk to chats directly.
func BuildRestrictedRegistry(cfg *config.Config, deps BuilderDeps) *Registry {
	workspace := cfg.WorkspacePath()
	restrict := cfg.Tools.RestrictToWorkspace

	r := NewRegistry(
		NewReadFileTool(workspace, restrict),
		NewWriteFileTool(workspace, restrict),
		NewEditFileTool(workspace, restrict),
		NewListDirTool(workspace, restrict),
		NewExecTool(workspace, restrict, time.Duration(cfg.Tools.Exec.Timeout)*time.Second),
		NewWebFetchTool(0),
	)
	if cfg.Tools.Web.Search.APIKey != "" {
		r.Register(NewWebSearchTool(cfg.Tools.Web.Search.APIKey, cfg.Tools.Web.Search.MaxResults))
	}
	if deps.Memory != nil {
		r.Register(NewMemoryTool(deps.Memory))
	}
	return r
}
