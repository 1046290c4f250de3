package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/ajitpratap0/perpfunk/internal/db"
	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
	"github.com/ajitpratap0/perpfunk/internal/trading"
)

// executorPool resolves each agent's exchange account handle to a signed
// executor, building one lazily per handle. Agents sharing a handle share
// the executor, and with it the exchange account behind it.
type executorPool struct {
	info          *hyperliquid.InfoClient
	meta          *hyperliquid.MetaCache
	baseURL       string
	timeout       time.Duration
	dryRun        bool
	mainnet       bool
	defaultKeyEnv string

	mu    sync.Mutex
	execs map[string]*hyperliquid.Executor
}

func newExecutorPool(info *hyperliquid.InfoClient, meta *hyperliquid.MetaCache, baseURL string, timeout time.Duration, dryRun, mainnet bool, defaultKeyEnv string) *executorPool {
	return &executorPool{
		info:          info,
		meta:          meta,
		baseURL:       baseURL,
		timeout:       timeout,
		dryRun:        dryRun,
		mainnet:       mainnet,
		defaultKeyEnv: defaultKeyEnv,
		execs:         make(map[string]*hyperliquid.Executor),
	}
}

// ExecutorFor implements trading.ExecutorResolver. An agent without its own
// account handle falls back to the service-wide key env.
func (p *executorPool) ExecutorFor(agent *db.Agent) (trading.Executor, error) {
	keyEnv := agent.ExchangeAccount
	if keyEnv == "" {
		keyEnv = p.defaultKeyEnv
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if exec, ok := p.execs[keyEnv]; ok {
		return exec, nil
	}

	// Dry-run never signs, so the key handle is only resolved for live
	// environments. The key material itself stays inside the signer.
	var signer *hyperliquid.Signer
	if !p.dryRun {
		s, err := hyperliquid.NewSignerFromEnv(keyEnv, p.mainnet)
		if err != nil {
			return nil, fmt.Errorf("agent %s account: %w", agent.Name, err)
		}
		signer = s
	}

	exec := hyperliquid.NewExecutor(signer, p.info, p.meta, p.baseURL, p.timeout, p.dryRun)
	p.execs[keyEnv] = exec
	return exec, nil
}
