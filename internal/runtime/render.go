package runtime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/aretw0/chatflow/pkg/domain"
)

// Render converts a node into the outbound action that presents it to chatID.
// Trigger nodes are entry markers and cannot be rendered.
func Render(node *domain.Node, chatID string) (domain.Action, error) {
	action := domain.Action{ChatID: chatID, NodeID: node.ID}

	switch p := node.Payload.(type) {
	case domain.MessagePayload:
		action.Type = domain.ActionSendText
		action.Text = p.Text
	case domain.MediaPayload:
		action.Type = domain.ActionSendMedia
		action.Media = &domain.MediaContent{
			URL:       p.URL,
			MediaType: p.MediaType,
			Caption:   p.Caption,
		}
	case domain.ListPayload:
		action.Type = domain.ActionSendInteractiveList
		action.List = &domain.InteractiveList{
			Title:  p.Title,
			Body:   p.Body,
			Footer: p.Footer,
			Button: p.Button,
			Rows:   append([]domain.ListRow(nil), p.Rows...),
		}
	case domain.MenuPayload:
		action.Type = domain.ActionSendText
		action.Text = menuText(p)
	case domain.TriggerPayload:
		return domain.Action{}, fmt.Errorf("node %q: trigger nodes are not renderable", node.ID)
	default:
		return domain.Action{}, fmt.Errorf("node %q: no renderer for payload %T", node.ID, node.Payload)
	}
	return action, nil
}

func menuText(p domain.MenuPayload) string {
	lines := make([]string, 0, len(p.Options)+1)
	if p.Title != "" {
		lines = append(lines, p.Title)
	}
	for i, opt := range p.Options {
		lines = append(lines, strconv.Itoa(i+1)+". "+opt)
	}
	return strings.Join(lines, "\n")
}

// SelectPort interprets a reply to a branching node as an output port.
// Lists accept a row label (normalized) or a 1-based index; menus accept the index only.
func SelectPort(node *domain.Node, text string) (int, bool) {
	switch p := node.Payload.(type) {
	case domain.ListPayload:
		want := compiler.Normalize(text)
		for i, row := range p.Rows {
			if compiler.Normalize(row.Label) == want {
				return i, true
			}
		}
		return parseIndex(text, len(p.Rows))
	case domain.MenuPayload:
		return parseIndex(text, len(p.Options))
	}
	return 0, false
}

func parseIndex(text string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}
