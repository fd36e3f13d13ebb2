package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"agent-zero/internal/domain"
)

const replHelp = `commands:
  /reset               start over with a fresh agent
  /log                 print the session log
  /tool NAME [JSON]    run a tool directly
  /quit                exit`

// lockedWriter serializes writes from bus handlers and the input loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// runREPL reads user messages line by line and prints the agent's answers.
func runREPL(ctx context.Context, rt *Runtime, in io.Reader, w io.Writer) error {
	out := &lockedWriter{w: w}
	s := rt.Sessions.Create(ctx)
	fmt.Fprintf(out, "session %s (type /help for commands)\n", s.ID)

	unsubscribe := rt.Bus.SubscribeSession(domain.EventToolCallStarted, s.ID, func(_ context.Context, e domain.Event) {
		fmt.Fprintf(out, "  ... using tool %s\n", gjson.GetBytes(e.Payload, "tool").String())
	})
	defer unsubscribe()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, replHelp)
		case "/reset":
			if err := rt.Sessions.Reset(ctx, s.ID); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		case "/log":
			entries, _, err := rt.Sessions.Log(s.ID, 0)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			for _, e := range entries {
				fmt.Fprintf(out, "[%d] %s: %s\n", e.No, e.Type, e.Heading)
			}
		case "/tool":
			name, args, _ := strings.Cut(strings.TrimSpace(rest), " ")
			if name == "" {
				fmt.Fprintln(out, "usage: /tool NAME [JSON]")
				continue
			}
			if args = strings.TrimSpace(args); args != "" && !gjson.Valid(args) {
				fmt.Fprintln(out, "error: arguments must be a JSON object")
				continue
			}
			res, err := rt.Sessions.InvokeTool(ctx, s.ID, name, json.RawMessage(args))
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, res.Content)
		default:
			answer, err := rt.Sessions.Communicate(ctx, s.ID, line)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, answer)
		}
	}
}
