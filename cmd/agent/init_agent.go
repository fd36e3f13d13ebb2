package main

import (
	"log/slog"

	"agent-zero/internal/adapter/prompt"
	"agent-zero/internal/adapter/tool"
	"agent-zero/internal/domain"
	"agent-zero/internal/infra/config"
	"agent-zero/internal/infra/logger"
	"agent-zero/internal/usecase"
	"agent-zero/internal/usecase/agent"
	"agent-zero/internal/usecase/agent/recall"
	"agent-zero/internal/usecase/eventbus"
)

// Runtime is everything a front end needs to talk to agents.
type Runtime struct {
	Bus      *eventbus.Bus
	Tools    *tool.Registry
	Sessions *usecase.SessionManager
}

// Close terminates every session and drains the event bus.
func (r *Runtime) Close() {
	r.Sessions.Close()
	r.Bus.Close()
}

// initAgent registers the tools and extensions and builds the session manager.
func initAgent(cfg *config.Config, models *LLMComponents, mem domain.MemoryStore, log *slog.Logger) (*Runtime, error) {
	bus := eventbus.New(logger.Component(log, "eventbus"))
	prompts := prompt.NewReader(cfg.Prompts.Dir, logger.Component(log, "prompt"))

	toolLog := logger.Component(log, "tool")
	tools := tool.NewRegistry(toolLog)
	if err := tools.Register(
		tool.NewResponseTool(toolLog),
		tool.NewCallSubordinateTool(prompts, toolLog),
	); err != nil {
		return nil, err
	}
	if err := tools.Register(tool.NewMemoryTools(mem, prompts, bus, toolLog).All()...); err != nil {
		return nil, err
	}

	ext := agent.NewExtensions()
	if cfg.Agent.Recall.Enabled {
		recall.Register(ext, recall.SettingsFromConfig(cfg.Agent.Recall))
	}

	sessions := usecase.NewSessionManager(usecase.SessionDeps{
		Events:     bus,
		Caller:     models.Caller,
		Prompts:    prompts,
		Memory:     mem,
		Tools:      tools,
		Extensions: ext,
		Agent: agent.Config{
			Profile:       cfg.Agent.Profile,
			MaxIterations: cfg.Agent.MaxIterations,
			HistoryLimit:  cfg.Agent.HistoryLimit,
			ChatModel:     models.Chat,
			UtilityModel:  models.Utility,
		},
		Timeout:       cfg.Agent.Timeout,
		TranscriptDir: cfg.Sessions.TranscriptDir,
		Logger:        logger.Component(log, "session"),
	})

	return &Runtime{Bus: bus, Tools: tools, Sessions: sessions}, nil
}
