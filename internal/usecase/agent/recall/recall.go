// Package recall provides the extensions that look up solutions and
// instruments in memory while an agent works and inject them into its
// system prompt.
package recall

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"agent-zero/internal/domain"
	"agent-zero/internal/infra/config"
	"agent-zero/internal/usecase/agent"
	"agent-zero/internal/usecase/stream"
	"agent-zero/internal/usecase/task"
)

// DataTask is the data bag key holding the pending search handle.
const DataTask = "_recall_solutions_task"

// Persistent extras keys written by the hooks.
const (
	ExtraSolutions   = "solutions"
	ExtraInstruments = "instruments"
)

// Hook orders at agent.MessageLoopPromptsAfter.
const (
	OrderSolutions = 51
	OrderWait      = 91
)

// Settings tune how often and how much is recalled.
type Settings struct {
	Interval         int
	HistoryChars     int
	SolutionsCount   int
	InstrumentsCount int
	Threshold        float64
}

// DefaultSettings searches on every third iteration for two solutions and
// two instruments with similarity of at least 0.6.
func DefaultSettings() Settings {
	return Settings{
		Interval:         3,
		HistoryChars:     10000,
		SolutionsCount:   2,
		InstrumentsCount: 2,
		Threshold:        0.6,
	}
}

// SettingsFromConfig fills unset fields from DefaultSettings.
func SettingsFromConfig(cfg config.RecallConfig) Settings {
	s := DefaultSettings()
	if cfg.Interval > 0 {
		s.Interval = cfg.Interval
	}
	if cfg.HistoryChars > 0 {
		s.HistoryChars = cfg.HistoryChars
	}
	if cfg.SolutionsCount > 0 {
		s.SolutionsCount = cfg.SolutionsCount
	}
	if cfg.InstrumentsCount > 0 {
		s.InstrumentsCount = cfg.InstrumentsCount
	}
	if cfg.Threshold > 0 {
		s.Threshold = cfg.Threshold
	}
	return s
}

// Result holds the rendered prompt fragments of one search. Empty fields
// mean nothing matched.
type Result struct {
	Instruments string
	Solutions   string
}

// Handle is the pending search stored under DataTask.
type Handle struct {
	Iteration int
	Task      *task.Task[Result]
}

// Register installs the search and wait hooks.
func Register(ext *agent.Extensions, s Settings) {
	ext.Register(agent.MessageLoopPromptsAfter, &Solutions{Settings: s}, Wait{})
}

// Solutions launches a background memory search on every Interval-th
// iteration, including the first.
type Solutions struct {
	Settings Settings
}

func (*Solutions) Name() string { return "recall_solutions" }
func (*Solutions) Order() int   { return OrderSolutions }

func (r *Solutions) Execute(ctx context.Context, a *agent.Agent, loop *agent.LoopData) error {
	interval := max(r.Settings.Interval, 1)
	if loop.Iteration%interval != 0 {
		a.SetData(DataTask, (*Handle)(nil))
		return nil
	}

	delete(loop.ExtrasPersistent, ExtraSolutions)
	delete(loop.ExtrasPersistent, ExtraInstruments)

	mem := a.Context().Memory
	if mem == nil {
		a.SetData(DataTask, (*Handle)(nil))
		return nil
	}

	log := a.Context().Log
	log.Log(domain.LogInfo, "", "Searching memory for solutions...", map[string]any{domain.LogKeyTemp: true})
	item := log.Log(domain.LogUtil, "Searching memory for solutions...", "", nil)

	s := search{
		settings: r.Settings,
		agent:    a,
		memory:   mem,
		item:     item,
		history:  a.HistoryText(r.Settings.HistoryChars),
		message:  loop.UserMessage,
	}
	t := task.Start(ctx, "recall_solutions", s.run)
	a.SetData(DataTask, &Handle{Iteration: loop.Iteration, Task: t})
	return nil
}

type search struct {
	settings Settings
	agent    *agent.Agent
	memory   domain.MemoryStore
	item     domain.LogItem
	history  string
	message  string
}

func (s search) run(ctx context.Context) (Result, error) {
	system, err := s.agent.ReadPrompt("memory.solutions_query.sys.md", map[string]any{"history": s.history})
	if err != nil {
		return Result{}, err
	}
	msg, err := s.agent.ReadPrompt("memory.solutions_query.msg.md", map[string]any{"message": s.message})
	if err != nil {
		return Result{}, err
	}

	query, err := s.agent.CallUtility(ctx, system, msg, stream.SinkFuncs{
		Response: func(_ context.Context, delta, _ string) error {
			s.item.StreamKV("query", delta)
			return nil
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("recall query: %w", err)
	}
	query = strings.TrimSpace(query)

	var solutions, instruments []domain.Document
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		solutions, err = s.memory.SearchSimilarityThreshold(gctx, query,
			s.settings.SolutionsCount, s.settings.Threshold, areaFilter(domain.AreaSolutions))
		return err
	})
	g.Go(func() (err error) {
		instruments, err = s.memory.SearchSimilarityThreshold(gctx, query,
			s.settings.InstrumentsCount, s.settings.Threshold, areaFilter(domain.AreaInstruments))
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	heading := fmt.Sprintf("%d instruments, %d solutions found", len(instruments), len(solutions))
	s.item.Update(domain.LogUpdate{Heading: &heading})

	var res Result
	if len(instruments) > 0 {
		text := joinContent(instruments)
		s.item.Update(domain.LogUpdate{KVPs: map[string]any{"instruments": text}})
		if res.Instruments, err = s.agent.ReadPrompt("agent.system.instruments.md", map[string]any{"instruments": text}); err != nil {
			return Result{}, err
		}
	}
	if len(solutions) > 0 {
		text := joinContent(solutions)
		s.item.Update(domain.LogUpdate{KVPs: map[string]any{"solutions": text}})
		if res.Solutions, err = s.agent.ReadPrompt("agent.system.solutions.md", map[string]any{"solutions": text}); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func areaFilter(area string) string {
	return fmt.Sprintf("%s == '%s'", domain.MetaArea, area)
}

func joinContent(docs []domain.Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// Wait awaits the search launched in the current iteration and applies its
// result: instruments stay in the system prompt until the next search,
// solutions are used by the next prompt assembly only. A handle left over
// from an earlier iteration is dropped without cancelling it.
type Wait struct{}

func (Wait) Name() string { return "recall_wait" }
func (Wait) Order() int   { return OrderWait }

func (Wait) Execute(ctx context.Context, a *agent.Agent, loop *agent.LoopData) error {
	v, _ := a.Data(DataTask)
	h, _ := v.(*Handle)
	if h == nil || h.Task == nil {
		return nil
	}
	a.SetData(DataTask, (*Handle)(nil))
	if h.Iteration != loop.Iteration {
		return nil
	}

	res, err := h.Task.Wait(ctx)
	if err != nil {
		return err
	}
	if res.Instruments != "" {
		loop.ExtrasPersistent[ExtraInstruments] = res.Instruments
	}
	if res.Solutions != "" {
		loop.SetOneShot(ExtraSolutions, res.Solutions)
	}
	return nil
}
