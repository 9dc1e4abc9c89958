package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aretw0/chatflow"
	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/internal/presentation/tui"
	"github.com/aretw0/chatflow/pkg/domain"
)

// LoadFlowFile reads a JSON or YAML flow document and checks it against the schema.
func LoadFlowFile(path string) (*domain.Flow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow: %w", err)
	}
	flow, err := compiler.NewParser().Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return flow, nil
}

// ChatOptions configures the terminal simulator.
type ChatOptions struct {
	FlowPath string
	ChatID   string
	In       io.Reader
	Out      io.Writer
	Logger   *slog.Logger
	Banner   bool
}

// RunChat activates the flow in FlowPath on an in-memory engine and lets the
// user converse with it line by line. It returns when input ends, on /quit or
// when ctx is cancelled.
func RunChat(ctx context.Context, opts ChatOptions) error {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.ChatID == "" {
		opts.ChatID = "local"
	}

	flow, err := LoadFlowFile(opts.FlowPath)
	if err != nil {
		return err
	}
	engine := chatflow.New(
		chatflow.WithLogger(opts.Logger),
		chatflow.WithLifecycleHooks(createDebugHooks(opts.Logger)),
	)
	saved, err := engine.SaveFlow(ctx, flow)
	if err != nil {
		return err
	}
	if _, err := engine.ActivateFlow(ctx, saved.ID); err != nil {
		return err
	}

	if opts.Banner {
		tui.PrintBanner(opts.Out, strings.TrimSpace(chatflow.Version))
	}
	printSystemMessage(opts.Out, "Flow '%s' active. Type /quit to leave, /reset to start over, /session to inspect.", saved.Name)

	renderer := tui.NewRenderer(opts.Out)
	lines := readLines(ctx, opts.In)
	for {
		fmt.Fprint(opts.Out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(opts.Out)
			return handleExecutionError(ctx.Err())
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(opts.Out)
				return nil
			}
			line = l
		}

		switch strings.TrimSpace(line) {
		case "/quit", "/exit":
			printSystemMessage(opts.Out, "Bye!")
			return nil
		case "/reset":
			if err := engine.ResetSession(ctx, opts.ChatID); err != nil {
				return err
			}
			printSystemMessage(opts.Out, "Session reset.")
			continue
		case "/session":
			printSession(ctx, engine, opts)
			continue
		}

		res, err := engine.HandleMessage(ctx, domain.InboundEvent{ChatID: opts.ChatID, Text: line})
		var overflow *domain.CycleOverflowError
		switch {
		case errors.As(err, &overflow):
			printSystemMessage(opts.Out, "Flow stopped after %d automatic steps at '%s'.", overflow.Hops, overflow.NodeID)
		case err != nil:
			return err
		}
		if res == nil {
			continue
		}
		if err := renderer.Render(res.Actions); err != nil {
			return err
		}
		if !res.Matched && !res.Fallback && len(res.Actions) == 0 {
			printSystemMessage(opts.Out, "No trigger matched.")
		}
		if res.Session != nil && res.Session.Status() == domain.StatusIdle && res.Matched {
			printSystemMessage(opts.Out, "Conversation finished.")
		}
	}
}

func printSession(ctx context.Context, engine *chatflow.Engine, opts ChatOptions) {
	sess, err := engine.GetSession(ctx, opts.ChatID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		printSystemMessage(opts.Out, "No session yet.")
		return
	}
	if err != nil {
		printSystemMessage(opts.Out, "Error loading session: %v", err)
		return
	}
	data, _ := json.MarshalIndent(sess, "", "  ")
	fmt.Fprintln(opts.Out, string(data))
}

// readLines pumps r into a channel so the prompt loop can also watch ctx.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
