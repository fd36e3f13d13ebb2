package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"agent-zero/internal/domain"
	"agent-zero/internal/infra/tracer"
	"agent-zero/internal/usecase/stream"
)

// Monologue runs the reasoning loop until a tool result breaks it, the
// iteration limit is reached or ctx ends. It returns the final answer.
func (a *Agent) Monologue(ctx context.Context) (string, error) {
	if err := a.begin(); err != nil {
		return "", err
	}
	defer a.end()

	ctx, span := tracer.StartSpan(ctx, "agent.monologue",
		trace.WithAttributes(tracer.IntAttr("agent.number", a.number)),
	)
	defer span.End()
	ctx = domain.ContextWithSessionID(ctx, a.sc.ID)
	ctx = domain.ContextWithAgent(ctx, a)

	ext := a.sc.Extensions
	loop := newLoopData(a.lastUserText())
	ext.Run(ctx, MonologueStart, a, loop)
	defer ext.Run(context.WithoutCancel(ctx), MonologueEnd, a, loop)

	maxIter := a.Config().MaxIterations
	for ; loop.Iteration < maxIter; loop.Iteration++ {
		if err := ctx.Err(); err != nil {
			tracer.RecordError(span, err)
			return "", err
		}
		if a.terminated() {
			return "", fmt.Errorf("%w: %s", domain.ErrAgentTerminated, a.Name())
		}
		span.AddEvent("agent.iteration", trace.WithAttributes(tracer.IntAttr("iteration", loop.Iteration)))

		ext.Run(ctx, MessageLoopStart, a, loop)

		msgs, err := a.preparePrompt(ctx, loop)
		if err != nil {
			tracer.RecordError(span, err)
			return "", err
		}

		response, err := a.callChat(ctx, msgs)
		if err != nil {
			a.logger.Error("chat model call failed", "iteration", loop.Iteration, "error", err)
			a.sc.Log.Log(domain.LogError, a.Name()+": model call failed", err.Error(), nil)
			tracer.RecordError(span, err)
			return "", err
		}
		loop.LastResponse = response
		a.appendHistory(domain.AssistantMessage(response))

		result, done := a.processTools(ctx, response)
		ext.Run(ctx, MessageLoopEnd, a, loop)
		clear(loop.ExtrasTemporary)

		if done {
			tracer.SetOK(span)
			return result, nil
		}
	}

	a.sc.Log.Log(domain.LogWarning, a.Name()+": iteration limit reached", fmt.Sprint(maxIter), nil)
	tracer.RecordError(span, domain.ErrMaxIterations)
	return "", domain.ErrMaxIterations
}

// preparePrompt assembles the messages of one turn: prompts_before hooks,
// the main system prompt, prompts_after hooks, then extras and history.
func (a *Agent) preparePrompt(ctx context.Context, loop *LoopData) ([]domain.ChatMessage, error) {
	ext := a.sc.Extensions
	loop.SystemPrompt = nil

	ext.Run(ctx, MessageLoopPromptsBefore, a, loop)

	main, err := a.systemPrompt()
	if err != nil {
		return nil, err
	}
	loop.SystemPrompt = append([]string{main}, loop.SystemPrompt...)

	ext.Run(ctx, MessageLoopPromptsAfter, a, loop)

	parts := slices.Concat(loop.SystemPrompt, loop.extras())
	loop.consumeOneShot()

	msgs := []domain.ChatMessage{domain.SystemMessage(strings.Join(parts, "\n\n"))}
	history := a.History()
	if limit := a.Config().HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append(msgs, history...), nil
}

func (a *Agent) systemPrompt() (string, error) {
	var tools []string
	for _, s := range a.sc.Tools.Schemas() {
		t, err := a.ReadPrompt("agent.system.tool.md", map[string]any{
			"name":        s.Name,
			"description": s.Description,
			"parameters":  string(s.Parameters),
		})
		if err != nil {
			return "", err
		}
		tools = append(tools, t)
	}

	superior := "the user"
	if a.superior != nil {
		superior = a.superior.Name()
	}
	return a.ReadPrompt("agent.system.main.md", map[string]any{
		"agent_number": a.number,
		"superior":     superior,
		"tools":        strings.Join(tools, "\n\n"),
		"date":         a.sc.now().Format(time.RFC3339),
	})
}

// callChat streams the chat model response into a log item.
func (a *Agent) callChat(ctx context.Context, msgs []domain.ChatMessage) (string, error) {
	item := a.sc.Log.Log(domain.LogAgent, a.Name()+": generating", "", nil)
	sink := stream.SinkFuncs{
		Response: func(_ context.Context, delta, _ string) error {
			item.Stream("", delta)
			return nil
		},
		Reasoning: func(_ context.Context, delta, _ string) error {
			item.StreamKV("reasoning", delta)
			return nil
		},
	}
	res, err := a.sc.Caller.UnifiedCall(ctx, a.Config().ChatModel, stream.Request{Messages: msgs}, sink)
	if err != nil {
		return "", err
	}
	heading := a.Name() + ": responding"
	item.Update(domain.LogUpdate{Heading: &heading})
	return res.Response, nil
}

// processTools runs the tool a response asks for. It reports whether the
// tool ended the monologue and, if so, the final answer.
func (a *Agent) processTools(ctx context.Context, response string) (string, bool) {
	req, err := ParseToolRequest(response)
	if err != nil {
		a.logger.Debug("response without tool request", "error", err)
		a.feedback(domain.LogWarning, "fw.msg_misformat.md", nil, err.Error())
		return "", false
	}

	tool, err := a.sc.Tools.Get(req.Name)
	if err != nil {
		a.feedback(domain.LogWarning, "fw.tool_not_found.md", map[string]any{"tool_name": req.Name}, err.Error())
		return "", false
	}

	result, err := a.executeTool(ctx, tool, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		a.feedback(domain.LogError, "fw.error.md", map[string]any{"error": err.Error()}, err.Error())
		return "", false
	}

	if result.BreakLoop {
		return result.Content, true
	}
	msg, perr := a.ReadPrompt("fw.tool_result.md", map[string]any{
		"tool_name":   req.Name,
		"tool_result": result.Content,
	})
	if perr != nil {
		msg = result.Content
	}
	a.appendHistory(domain.UserMessage(msg))
	return "", false
}

// InvokeTool runs the named tool outside the reasoning loop, as if the agent
// had requested it. The result is logged but not added to the history.
func (a *Agent) InvokeTool(ctx context.Context, name string, args json.RawMessage) (*domain.ToolResult, error) {
	if err := a.begin(); err != nil {
		return nil, err
	}
	defer a.end()

	tool, err := a.sc.Tools.Get(name)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	ctx = domain.ContextWithSessionID(ctx, a.sc.ID)
	ctx = domain.ContextWithAgent(ctx, a)
	return a.executeTool(ctx, tool, ToolRequest{Name: name, Args: args})
}

func (a *Agent) executeTool(ctx context.Context, tool domain.Tool, req ToolRequest) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", req.Name)),
	)
	defer span.End()

	item := a.sc.Log.Log(domain.LogTool, fmt.Sprintf("%s: using tool '%s'", a.Name(), req.Name), "",
		map[string]any{"args": string(req.Args), "thoughts": req.Thoughts})
	a.sc.emit(ctx, domain.EventToolCallStarted, map[string]string{"tool": req.Name})

	result, err := tool.Execute(ctx, req.Args)
	if err == nil && result == nil {
		err = fmt.Errorf("%w: %s returned no result", domain.ErrToolFailure, req.Name)
	}
	a.sc.emit(ctx, domain.EventToolCallCompleted, map[string]string{
		"tool":    req.Name,
		"success": fmt.Sprint(err == nil),
	})

	if err != nil {
		tracer.RecordError(span, err)
		content := err.Error()
		item.Update(domain.LogUpdate{Content: &content, Type: ptr(domain.LogError)})
		return nil, err
	}

	item.Update(domain.LogUpdate{Content: &result.Content})
	if result.IsError {
		tracer.RecordError(span, errors.New(result.Content))
	} else {
		tracer.SetOK(span)
	}
	if result.BreakLoop {
		rt := domain.LogResponse
		item.Update(domain.LogUpdate{Type: &rt})
	}
	return result, nil
}

// feedback appends a framework message to the history so the model can
// correct itself, and mirrors it to the session log.
func (a *Agent) feedback(typ domain.LogType, prompt string, vars map[string]any, detail string) {
	msg, err := a.ReadPrompt(prompt, vars)
	if err != nil {
		msg = detail
	}
	a.appendHistory(domain.UserMessage(msg))
	a.sc.Log.Log(typ, a.Name()+": "+strings.TrimSuffix(prompt, ".md"), msg, map[string]any{"detail": detail})
}

func ptr[T any](v T) *T { return &v }
