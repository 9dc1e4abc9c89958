package tui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Renderer prints outbound actions the way a chat client would show them.
// Markdown is styled with glamour on terminals and written as-is otherwise.
type Renderer struct {
	out io.Writer
	md  *glamour.TermRenderer
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer) *Renderer {
	r := &Renderer{out: out}
	if IsTerminal(out) {
		// Automatically detect light/dark background
		if md, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80)); err == nil {
			r.md = md
		}
	}
	return r
}

// Render writes every action in order.
func (r *Renderer) Render(actions []domain.Action) error {
	for _, a := range actions {
		text := ActionMarkdown(a)
		if r.md != nil {
			styled, err := r.md.Render(text)
			if err != nil {
				return fmt.Errorf("render %s: %w", a.Type, err)
			}
			text = styled
		} else {
			text += "\n"
		}
		if _, err := io.WriteString(r.out, text); err != nil {
			return err
		}
	}
	return nil
}

// ActionMarkdown formats one action as markdown.
func ActionMarkdown(a domain.Action) string {
	var b strings.Builder
	switch a.Type {
	case domain.ActionSendText:
		b.WriteString(a.Text)
	case domain.ActionSendMedia:
		if a.Media == nil {
			break
		}
		fmt.Fprintf(&b, "![%s](%s)", a.Media.MediaType, a.Media.URL)
		if a.Media.Caption != "" {
			fmt.Fprintf(&b, "\n\n%s", a.Media.Caption)
		}
	case domain.ActionSendInteractiveList:
		if a.List == nil {
			break
		}
		writeList(&b, a.List)
	default:
		fmt.Fprintf(&b, "_unsupported action %q_", a.Type)
	}
	return b.String()
}

func writeList(b *strings.Builder, l *domain.InteractiveList) {
	if l.Title != "" {
		fmt.Fprintf(b, "**%s**\n\n", l.Title)
	}
	if l.Body != "" {
		fmt.Fprintf(b, "%s\n\n", l.Body)
	}
	for i, row := range l.Rows {
		fmt.Fprintf(b, "%d. %s", i+1, row.Label)
		if row.Description != "" {
			fmt.Fprintf(b, ": %s", row.Description)
		}
		b.WriteString("\n")
	}
	if l.Footer != "" {
		fmt.Fprintf(b, "\n_%s_\n", l.Footer)
	}
	if l.Button != "" {
		fmt.Fprintf(b, "\n`[%s]`", l.Button)
	}
}
