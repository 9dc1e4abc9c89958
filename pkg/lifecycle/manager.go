// Package lifecycle manages the stored flow documents and the single active
// flow snapshot read by the engine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/ports"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalidFlow is returned by SaveFlow when the document fails shape validation.
var ErrInvalidFlow = errors.New("invalid flow document")

// Manager owns the active flow snapshot. Activations and mutations are serialized;
// readers never block and always observe one complete snapshot.
type Manager struct {
	store    ports.FlowStore
	validate *validator.Validate
	logger   *slog.Logger

	mu       sync.Mutex
	current  atomic.Pointer[compiler.Snapshot]
	rejected string // id@version of a stored active flow that failed to compile
	onSwap   []func(*compiler.Snapshot)
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSwapHook registers a callback invoked after every snapshot swap.
// The callback runs while activations are serialized and must not call back into the Manager.
func WithSwapHook(fn func(*compiler.Snapshot)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.onSwap = append(m.onSwap, fn)
		}
	}
}

// NewManager creates a Manager over store. Call Load to restore the active flow.
func NewManager(store ports.FlowStore, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns the active flow snapshot, or nil when no flow is active.
func (m *Manager) Snapshot() *compiler.Snapshot {
	return m.current.Load()
}

// Load rebuilds the snapshot from the stored active flow.
// An active flow that no longer compiles is logged and left out of memory.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, _, err := m.sync(ctx)
	return err
}

// Refresh brings the snapshot in line with the store when the stored active
// flow differs in id or version, and reports whether the snapshot changed.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, changed, err := m.sync(ctx)
	return changed, err
}

// Watch calls Refresh every interval until ctx is done, picking up
// activations made by other processes sharing the store.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("Failed to refresh active flow", "err", err)
			}
		}
	}
}

// sync reads the store's active flow and swaps the snapshot when it changed.
// It returns the stored active id ("" when none). Callers hold m.mu.
func (m *Manager) sync(ctx context.Context) (string, bool, error) {
	current := m.current.Load()

	flow, err := m.store.Active(ctx)
	if errors.Is(err, domain.ErrNoActiveFlow) {
		m.rejected = ""
		if current == nil {
			return "", false, nil
		}
		m.swap(nil)
		m.logger.Info("Active flow cleared in store", "flow_id", current.FlowID())
		return "", true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load active flow: %w", err)
	}

	key := fmt.Sprintf("%s@%d", flow.ID, flow.Version)
	if current.FlowID() == flow.ID && current.Version() == flow.Version {
		return flow.ID, false, nil
	}
	if current == nil && key == m.rejected {
		return flow.ID, false, nil
	}

	snap, err := compiler.Build(flow)
	if err != nil {
		m.logger.Error("Stored active flow does not compile, ignoring traffic",
			"flow_id", flow.ID,
			"version", flow.Version,
			"err", err,
		)
		m.rejected = key
		m.swap(nil)
		return flow.ID, current != nil, nil
	}
	m.rejected = ""
	m.swap(snap)
	m.logger.Info("Active flow loaded", "flow_id", flow.ID, "version", flow.Version)
	return flow.ID, true, nil
}

// Activate compiles the stored flow, marks it active in the store and swaps the snapshot.
// A flow that fails to compile returns *domain.MalformedFlowError and changes nothing.
func (m *Manager) Activate(ctx context.Context, flowID string) (*domain.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	flow, err := m.store.Get(ctx, flowID)
	if err != nil {
		return nil, err
	}
	snap, err := compiler.Build(flow)
	if err != nil {
		return nil, err
	}
	if err := m.store.Activate(ctx, flowID); err != nil {
		return nil, fmt.Errorf("failed to activate flow %s: %w", flowID, err)
	}

	snap.Flow.Active = true
	m.rejected = ""
	m.swap(snap)
	m.logger.Info("Flow activated", "flow_id", flowID, "version", flow.Version)
	return snap.Flow.Clone(), nil
}

func (m *Manager) swap(snap *compiler.Snapshot) {
	m.current.Store(snap)
	for _, fn := range m.onSwap {
		fn(snap)
	}
}

// SaveFlow validates and stores a document, assigning an id when it has none.
// The active flow cannot be overwritten: save a copy and activate it instead.
func (m *Manager) SaveFlow(ctx context.Context, flow *domain.Flow) (*domain.Flow, error) {
	if flow == nil {
		return nil, fmt.Errorf("%w: nil document", ErrInvalidFlow)
	}
	if err := m.validate.Struct(flow); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	activeID, _, err := m.sync(ctx)
	if err != nil {
		return nil, err
	}

	doc := flow.Clone()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	} else if doc.ID == activeID {
		return nil, fmt.Errorf("cannot overwrite flow %s: %w", doc.ID, domain.ErrFlowInUse)
	}

	stored, err := m.store.Save(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to save flow %s: %w", doc.ID, err)
	}
	m.logger.Debug("Flow saved", "flow_id", stored.ID, "version", stored.Version)
	return stored, nil
}

// DeleteFlow removes a stored flow. The flow the store marks active returns domain.ErrFlowInUse.
func (m *Manager) DeleteFlow(ctx context.Context, flowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, _, err := m.sync(ctx); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, flowID); err != nil {
		if errors.Is(err, domain.ErrFlowInUse) {
			return fmt.Errorf("cannot delete flow %s: %w", flowID, err)
		}
		return err
	}
	m.logger.Info("Flow deleted", "flow_id", flowID)
	return nil
}

// ListFlows returns a summary of every stored flow.
func (m *Manager) ListFlows(ctx context.Context) ([]domain.FlowSummary, error) {
	return m.store.List(ctx)
}

// GetFlow returns a stored flow, or domain.ErrFlowNotFound.
func (m *Manager) GetFlow(ctx context.Context, flowID string) (*domain.Flow, error) {
	return m.store.Get(ctx, flowID)
}

// GetActiveFlow returns the document behind the active snapshot, or domain.ErrNoActiveFlow.
func (m *Manager) GetActiveFlow(ctx context.Context) (*domain.Flow, error) {
	snap := m.current.Load()
	if snap == nil {
		return nil, domain.ErrNoActiveFlow
	}
	return snap.Flow.Clone(), nil
}
