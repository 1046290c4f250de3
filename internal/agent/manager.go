package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/perpfunk/internal/config"
	"github.com/ajitpratap0/perpfunk/internal/db"
	"github.com/ajitpratap0/perpfunk/internal/llm"
	"github.com/ajitpratap0/perpfunk/internal/metrics"
)

// AgentStore is the persistence surface the manager reads agents from
type AgentStore interface {
	ListActiveAgents(ctx context.Context) ([]*db.Agent, error)
}

// ProviderStats aggregates per-model call accounting
type ProviderStats struct {
	Calls            int64
	Failures         int64
	PromptTokens     int64
	CompletionTokens int64
	TotalWallClock   time.Duration
}

// Manager owns the active agent set and the provider bound to each agent.
// Agents whose model reference cannot be resolved are kept but marked
// inactive in-process; the store record is never mutated.
type Manager struct {
	store AgentStore
	cfg   *config.LLMConfig

	mu        sync.RWMutex
	agents    []*db.Agent
	providers map[uuid.UUID]llm.Provider
	inactive  map[uuid.UUID]string // reason per agent excluded this session
	stats     map[string]*ProviderStats
}

// NewManager creates an agent manager; call Load before first use
func NewManager(store AgentStore, cfg *config.LLMConfig) *Manager {
	return &Manager{
		store:     store,
		cfg:       cfg,
		providers: make(map[uuid.UUID]llm.Provider),
		inactive:  make(map[uuid.UUID]string),
		stats:     make(map[string]*ProviderStats),
	}
}

// Load pulls active agents from the store and binds each to a provider from
// the model pool. Safe to call again to reload.
func (m *Manager) Load(ctx context.Context) error {
	agents, err := m.store.ListActiveAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}

	providers := make(map[uuid.UUID]llm.Provider, len(agents))
	inactive := make(map[uuid.UUID]string)

	for _, a := range agents {
		mc, ok := m.cfg.Models[a.LLMModelID]
		if !ok {
			reason := fmt.Sprintf("model %q not in pool", a.LLMModelID)
			inactive[a.ID] = reason
			log.Warn().
				Str("agent", a.Name).
				Str("model_id", a.LLMModelID).
				Msg("Agent references unknown model, marking inactive for this session")
			continue
		}

		provider, err := llm.NewProvider(a.LLMModelID, &mc, m.cfg)
		if err != nil {
			inactive[a.ID] = err.Error()
			log.Warn().Err(err).
				Str("agent", a.Name).
				Msg("Provider construction failed, marking agent inactive for this session")
			continue
		}
		providers[a.ID] = provider
	}

	m.mu.Lock()
	m.agents = agents
	m.providers = providers
	m.inactive = inactive
	m.mu.Unlock()

	log.Info().
		Int("loaded", len(agents)).
		Int("bound", len(providers)).
		Int("inactive", len(inactive)).
		Msg("Agents loaded")
	return nil
}

// Reload re-reads the agent set; an alias kept for operational clarity
func (m *Manager) Reload(ctx context.Context) error { return m.Load(ctx) }

// Active returns the agents that have a bound provider, in load order
func (m *Manager) Active() []*db.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*db.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if _, ok := m.providers[a.ID]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ProviderFor returns the provider bound to an agent
func (m *Manager) ProviderFor(agentID uuid.UUID) (llm.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if reason, excluded := m.inactive[agentID]; excluded {
		return nil, fmt.Errorf("agent inactive: %s", reason)
	}
	provider, ok := m.providers[agentID]
	if !ok {
		return nil, fmt.Errorf("no provider bound for agent %s", agentID)
	}
	return provider, nil
}

// RecordCall implements llm.StatsSink
func (m *Manager) RecordCall(model string, usage *llm.Usage, wallClock time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[model]
	if !ok {
		s = &ProviderStats{}
		m.stats[model] = s
	}
	s.Calls++
	s.TotalWallClock += wallClock
	if err != nil {
		s.Failures++
	}
	if usage != nil {
		s.PromptTokens += int64(usage.PromptTokens)
		s.CompletionTokens += int64(usage.CompletionTokens)
		metrics.LLMTokens.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
		metrics.LLMTokens.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
	}
}

// Stats returns a copy of the per-model aggregates
func (m *Manager) Stats() map[string]ProviderStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ProviderStats, len(m.stats))
	for model, s := range m.stats {
		out[model] = *s
	}
	return out
}
