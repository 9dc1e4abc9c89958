package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/chatflow/pkg/domain"
)

// Store implements ports.SessionStore using the local filesystem.
// It stores sessions as JSON files in a configured directory.
type Store struct {
	BasePath string
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".chatflow/sessions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".chatflow", "sessions")
	}
	return &Store{BasePath: basePath}
}

// Save persists the session to a JSON file atomically.
func (s *Store) Save(ctx context.Context, session *domain.Session) error {
	if session.ChatID == "" {
		return fmt.Errorf("chatID cannot be empty")
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := writeAtomic(s.BasePath, fileName(session.ChatID), data); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ChatID, err)
	}
	return nil
}

// Load retrieves the session from a JSON file.
func (s *Store) Load(ctx context.Context, chatID string) (*domain.Session, error) {
	if chatID == "" {
		return nil, fmt.Errorf("chatID cannot be empty")
	}

	data, err := os.ReadFile(filepath.Join(s.BasePath, fileName(chatID)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Delete removes the session file.
func (s *Store) Delete(ctx context.Context, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("chatID cannot be empty")
	}

	err := os.Remove(filepath.Join(s.BasePath, fileName(chatID)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// List returns all chats with a session file.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := listIDs(s.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}
