package trading

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/perpfunk/internal/db"
	"github.com/ajitpratap0/perpfunk/internal/hyperliquid"
)

// AccountReader is the info surface startup reconciliation reads
type AccountReader interface {
	ClearinghouseState(ctx context.Context, user string) (*hyperliquid.ClearinghouseState, error)
	UserFills(ctx context.Context, user string) ([]hyperliquid.UserFill, error)
}

// Size drift below this fraction is lot rounding, not a discrepancy
var reconcileSizeTolerance = decimal.NewFromFloat(0.01)

// Reconciler compares local open trade rows against the exchange's account
// state at startup. The exchange is authoritative: discrepancies are logged
// and noted on the trade rows, never auto-corrected.
type Reconciler struct {
	store    TradeStore
	info     AccountReader
	resolver ExecutorResolver
}

// NewReconciler creates a startup reconciler
func NewReconciler(store TradeStore, info AccountReader, resolver ExecutorResolver) *Reconciler {
	return &Reconciler{store: store, info: info, resolver: resolver}
}

// Run reconciles every agent and returns the discrepancy notes recorded.
// A single agent failing to reconcile never blocks the others.
func (r *Reconciler) Run(ctx context.Context, agents []*db.Agent) []string {
	var notes []string
	for _, agent := range agents {
		ns, err := r.reconcileAgent(ctx, agent)
		if err != nil {
			log.Warn().Err(err).Str("agent", agent.Name).Msg("Startup reconcile skipped")
			continue
		}
		notes = append(notes, ns...)
	}
	return notes
}

func (r *Reconciler) reconcileAgent(ctx context.Context, agent *db.Agent) ([]string, error) {
	exec, err := r.resolver.ExecutorFor(agent)
	if err != nil {
		return nil, err
	}
	addr := exec.Address()
	if addr == "" {
		// Dry-run has no account on the exchange
		return nil, nil
	}

	trades, err := r.store.GetOpenTrades(ctx, agent.ID)
	if err != nil {
		return nil, err
	}

	state, err := r.info.ClearinghouseState(ctx, addr)
	if err != nil {
		return nil, err
	}

	onExchange := make(map[string]decimal.Decimal, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		szi, perr := decimal.NewFromString(ap.Position.Szi)
		if perr != nil || szi.IsZero() {
			continue
		}
		onExchange[ap.Position.Coin] = szi
	}

	closePnls := r.recentClosePnls(ctx, addr)

	var notes []string
	for _, t := range trades {
		szi, ok := onExchange[t.Coin]
		if !ok {
			note := fmt.Sprintf("startup reconcile: no %s position on exchange", t.Coin)
			if pnl, seen := closePnls[t.Coin]; seen {
				note = fmt.Sprintf("%s (last close pnl %s)", note, pnl)
			}
			notes = append(notes, note)
			log.Warn().
				Str("agent", agent.Name).
				Str("coin", t.Coin).
				Str("trade_id", t.ID.String()).
				Msg("Open trade row has no matching exchange position")
			r.annotate(ctx, t, note)
			continue
		}
		delete(onExchange, t.Coin)

		recorded := decimal.NewFromFloat(t.Size)
		if t.Side == db.TradeSideShort {
			recorded = recorded.Neg()
		}
		drift := szi.Sub(recorded).Abs()
		if drift.GreaterThan(recorded.Abs().Mul(reconcileSizeTolerance)) {
			note := fmt.Sprintf("startup reconcile: exchange %s size %s differs from recorded %s",
				t.Coin, szi, recorded)
			notes = append(notes, note)
			log.Warn().
				Str("agent", agent.Name).
				Str("coin", t.Coin).
				Str("exchange_size", szi.String()).
				Str("recorded_size", recorded.String()).
				Msg("Exchange position size differs from trade record")
			r.annotate(ctx, t, note)
		}
	}

	for coin := range onExchange {
		note := fmt.Sprintf("startup reconcile: untracked %s position on exchange", coin)
		notes = append(notes, note)
		log.Warn().
			Str("agent", agent.Name).
			Str("coin", coin).
			Msg("Exchange holds a position with no open trade row")
	}
	return notes, nil
}

// recentClosePnls maps each coin to its most recent closing fill's pnl;
// fills arrive newest first
func (r *Reconciler) recentClosePnls(ctx context.Context, addr string) map[string]string {
	fills, err := r.info.UserFills(ctx, addr)
	if err != nil {
		log.Warn().Err(err).Msg("User fills unavailable for reconcile")
		return nil
	}
	out := make(map[string]string)
	for _, f := range fills {
		if !strings.Contains(f.Dir, "Close") {
			continue
		}
		if _, ok := out[f.Coin]; !ok {
			out[f.Coin] = f.ClosedPnl
		}
	}
	return out
}

func (r *Reconciler) annotate(ctx context.Context, t *db.Trade, note string) {
	if err := r.store.AnnotateTrade(ctx, t.ID, note); err != nil {
		log.Warn().Err(err).Str("trade_id", t.ID.String()).Msg("Failed to annotate trade")
	}
}
