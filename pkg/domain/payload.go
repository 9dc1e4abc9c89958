package domain

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Payload is the kind-specific data of a node.
// The set of implementations is closed: one per NodeKind.
type Payload interface {
	Kind() NodeKind
	// PortCount is the number of output ports the node exposes.
	PortCount() int
	isPayload()
}

// TriggerPayload holds the phrase that starts a conversation.
type TriggerPayload struct {
	Phrase string `json:"phrase"`
}

// MessagePayload holds a plain text message.
type MessagePayload struct {
	Text string `json:"text"`
}

// ListRow is a selectable row of an interactive list.
type ListRow struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// ListPayload describes an interactive list message. Each row is an output port.
type ListPayload struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Footer string    `json:"footer,omitempty"`
	Button string    `json:"button"`
	Rows   []ListRow `json:"rows"`
}

// MenuPayload describes a numbered text menu. Each option is an output port.
type MenuPayload struct {
	Title   string   `json:"title"`
	Options []string `json:"options"`
}

// MediaPayload describes a media attachment.
type MediaPayload struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	Caption   string `json:"caption,omitempty"`
}

func (TriggerPayload) Kind() NodeKind { return KindTrigger }
func (MessagePayload) Kind() NodeKind { return KindMessage }
func (ListPayload) Kind() NodeKind { return KindList }
func (MenuPayload) Kind() NodeKind { return KindMenu }
func (MediaPayload) Kind() NodeKind { return KindMedia }

func (TriggerPayload) PortCount() int { return 1 }
func (MessagePayload) PortCount() int { return 1 }
func (p ListPayload) PortCount() int { return len(p.Rows) }
func (p MenuPayload) PortCount() int { return len(p.Options) }
func (MediaPayload) PortCount() int { return 1 }

func (TriggerPayload) isPayload() {}
func (MessagePayload) isPayload() {}
func (ListPayload) isPayload() {}
func (MenuPayload) isPayload() {}
func (MediaPayload) isPayload() {}

// DecodePayload converts the generic "data" map of the transfer format into the
// payload struct matching kind. A nil map yields an empty payload of that kind.
func DecodePayload(kind NodeKind, data map[string]any) (Payload, error) {
	var target Payload
	switch kind {
	case KindTrigger:
		target = &TriggerPayload{}
	case KindMessage:
		target = &MessagePayload{}
	case KindList:
		target = &ListPayload{}
	case KindMenu:
		target = &MenuPayload{}
	case KindMedia:
		target = &MediaPayload{}
	default:
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}

	if data != nil {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			Result:           target,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(data); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
	}

	switch p := target.(type) {
	case *TriggerPayload:
		return *p, nil
	case *MessagePayload:
		return *p, nil
	case *ListPayload:
		return *p, nil
	case *MenuPayload:
		return *p, nil
	case *MediaPayload:
		return *p, nil
	}
	return nil, fmt.Errorf("unknown node kind %q", kind)
}

// ClonePayload returns a deep copy of p.
func ClonePayload(p Payload) Payload {
	switch v := p.(type) {
	case ListPayload:
		v.Rows = append([]ListRow(nil), v.Rows...)
		return v
	case MenuPayload:
		v.Options = append([]string(nil), v.Options...)
		return v
	}
	return p
}
