package domain

// ActionType identifies the outbound transport operation.
type ActionType string

const (
	ActionSendText            ActionType = "send_text"
	ActionSendMedia           ActionType = "send_media"
	ActionSendInteractiveList ActionType = "send_interactive_list"
)

// MediaContent is the body of a send_media action.
type MediaContent struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	Caption   string `json:"caption,omitempty"`
}

// InteractiveList is the body of a send_interactive_list action.
type InteractiveList struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Footer string    `json:"footer,omitempty"`
	Button string    `json:"button"`
	Rows   []ListRow `json:"rows"`
}

// Action is a single message the engine asks the transport to deliver.
// Exactly one of Text, Media or List is set, according to Type.
type Action struct {
	Type   ActionType       `json:"type"`
	ChatID string           `json:"chat_id"`
	NodeID string           `json:"node_id,omitempty"`
	Text   string           `json:"text,omitempty"`
	Media  *MediaContent    `json:"media,omitempty"`
	List   *InteractiveList `json:"list,omitempty"`
}

// TextAction builds a send_text action.
func TextAction(chatID, text string) Action {
	return Action{Type: ActionSendText, ChatID: chatID, Text: text}
}
