package ports

import (
	"context"
	"fmt"

	"github.com/aretw0/chatflow/pkg/domain"
)

// Dispatcher delivers outbound messages to the chat transport.
type Dispatcher interface {
	SendText(ctx context.Context, chatID, text string) error
	SendMedia(ctx context.Context, chatID string, media domain.MediaContent) error
	SendInteractiveList(ctx context.Context, chatID string, list domain.InteractiveList) error
}

// Dispatch routes a single action to the matching Dispatcher method.
func Dispatch(ctx context.Context, d Dispatcher, action domain.Action) error {
	switch action.Type {
	case domain.ActionSendText:
		return d.SendText(ctx, action.ChatID, action.Text)
	case domain.ActionSendMedia:
		if action.Media == nil {
			return fmt.Errorf("send_media action without media")
		}
		return d.SendMedia(ctx, action.ChatID, *action.Media)
	case domain.ActionSendInteractiveList:
		if action.List == nil {
			return fmt.Errorf("send_interactive_list action without list")
		}
		return d.SendInteractiveList(ctx, action.ChatID, *action.List)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// Responder produces a generative-AI reply for text that matched no trigger.
type Responder interface {
	Respond(ctx context.Context, chatID, text string) (string, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, chatID, text string) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, chatID, text string) (string, error) {
	return f(ctx, chatID, text)
}
