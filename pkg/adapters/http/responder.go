package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aretw0/chatflow/pkg/ports"
)

// Responder forwards unmatched text to an external AI service.
// The service receives {"chat_id", "text"} and answers {"reply"}.
type Responder struct {
	url    string
	client *http.Client
}

var _ ports.Responder = (*Responder)(nil)

// NewResponder creates a responder posting to url. Zero timeout means 10s.
func NewResponder(url string, timeout time.Duration) *Responder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Responder{url: url, client: &http.Client{Timeout: timeout}}
}

type respondRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type respondResponse struct {
	Reply string `json:"reply"`
}

func (r *Responder) Respond(ctx context.Context, chatID, text string) (string, error) {
	body, err := json.Marshal(respondRequest{ChatID: chatID, Text: text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build responder request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("responder request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("responder returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	var out respondResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("invalid responder body: %w", err)
	}
	return out.Reply, nil
}
