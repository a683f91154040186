// Package arbiter runs every proposed signal through the ordered risk gates
// and is the only place positions are created.
package arbiter

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/metrics"
	"github.com/rangefx-bot/pkg/portfolio"
	"github.com/rangefx-bot/pkg/position"
	"github.com/rangefx-bot/pkg/risk"
	"github.com/rangefx-bot/pkg/strategy"
)

// Code identifies the gate that rejected a signal
type Code string

const (
	InstrumentNotAllowed Code = "INSTRUMENT_NOT_ALLOWED"
	GoldGate             Code = "GOLD_GATE"
	MaxConcurrent        Code = "MAX_CONCURRENT"
	MaxDailyTrades       Code = "MAX_DAILY_TRADES"
	DailyLossCap         Code = "DAILY_LOSS_CAP"
	NewsBlocked          Code = "NEWS_BLOCKED"
	PostEventCooling     Code = "POST_EVENT_COOLING"
	PhantomBlocked       Code = "PHANTOM_BLOCKED"
	GapAdjacentBlocked   Code = "GAP_ADJACENT_BLOCKED"
	SessionBlocked       Code = "SESSION_BLOCKED"
	StrategyCooldown     Code = "STRATEGY_COOLDOWN"
	PriceLevelCooldown   Code = "PRICE_LEVEL_COOLDOWN"
	CorrelationBlocked   Code = "CORRELATION_BLOCKED"
	InvalidStop          Code = "INVALID_STOP"
	StopTooTight         Code = "STOP_TOO_TIGHT"
	RiskTooLow           Code = "RISK_TOO_LOW"
	UnknownModule        Code = "UNKNOWN_MODULE"
)

// Rejection explains why a signal was not admitted
type Rejection struct {
	Code   Code
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Reason)
}

func reject(code Code, format string, args ...interface{}) *Rejection {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// idNamespace scopes deterministic position IDs
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("rangefx-bot/positions"))

// PositionID derives a deterministic ID from the fields that make a position
// unique within a run
func PositionID(instrument string, entry time.Time, module string, seq int) string {
	key := fmt.Sprintf("%s|%s|%s|%d", instrument, entry.UTC().Format(time.RFC3339Nano), module, seq)
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// Pipeline is the ordered gate sequence
type Pipeline struct {
	cfg      *config.Config
	calendar *gating.Calendar
	registry *strategy.Registry
	sizer    *risk.Sizer
	machine  *position.Machine
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewPipeline creates a pipeline. calendar may be empty but not nil.
func NewPipeline(cfg *config.Config, calendar *gating.Calendar, registry *strategy.Registry,
	machine *position.Machine, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		calendar: calendar,
		registry: registry,
		sizer:    risk.NewSizer(cfg),
		machine:  machine,
		metrics:  m,
		logger:   logger,
	}
}

// Admit runs sig through the gates against the bar that produced it. On
// success the position is opened in st and returned. A non-nil error is an
// invariant violation and must halt the run.
func (pl *Pipeline) Admit(sig *strategy.Signal, bar bars.Bar, st *portfolio.State) (*position.Position, *Rejection, error) {
	p, rej, err := pl.admit(sig, bar, st)
	if rej != nil {
		pl.metrics.Rejections.WithLabelValues(string(rej.Code)).Inc()
		pl.logger.Info("[ARBITER] signal rejected",
			zap.String("instrument", sig.Instrument),
			zap.String("module", sig.Module),
			zap.String("direction", string(sig.Direction)),
			zap.String("code", string(rej.Code)),
			zap.String("reason", rej.Reason),
			zap.Time("bar_time", bar.EndTime))
	}
	return p, rej, err
}

func (pl *Pipeline) admit(sig *strategy.Signal, bar bars.Bar, st *portfolio.State) (*position.Position, *Rejection, error) {
	now := bar.EndTime
	inst, err := config.Lookup(sig.Instrument)
	if err != nil || !pl.cfg.IsAllowed(sig.Instrument) {
		return nil, reject(InstrumentNotAllowed, "%s not in allowlist", sig.Instrument), nil
	}
	equity := st.EquityFloat()
	if inst.Name == config.GoldPair && !risk.GoldUnlocked(pl.cfg, equity) {
		return nil, reject(GoldGate, "equity %.2f below %.0f", equity, pl.cfg.GoldUnlockEquity), nil
	}
	mod := pl.registry.Lookup(sig.Module)
	if mod == nil {
		return nil, reject(UnknownModule, "no module %q", sig.Module), nil
	}

	if limit := risk.MaxConcurrent(pl.cfg, equity); st.OpenCount() >= limit {
		return nil, reject(MaxConcurrent, "%d open positions, limit %d", st.OpenCount(), limit), nil
	}
	if st.Daily.TradesExhausted() {
		return nil, reject(MaxDailyTrades, "%d trades today", st.Daily.TradeCount()), nil
	}
	if st.Daily.CapHit() {
		return nil, reject(DailyLossCap, "%.2fR lost today", st.Daily.LossR()), nil
	}

	if ev, blocked := pl.calendar.Blocked(inst.Name, now); blocked {
		return nil, reject(NewsBlocked, "%s %s %s at %s", ev.Impact, ev.Currency, ev.Name, ev.Time.Format(time.RFC3339)), nil
	}
	if pl.calendar.PostEventCooling(inst.Name, now) && sig.RegimeScore <= pl.cfg.PostEventMinScore {
		return nil, reject(PostEventCooling, "score %.1f inside post-event window", sig.RegimeScore), nil
	}

	if bar.IsPhantom {
		return nil, reject(PhantomBlocked, "bar ending %s is phantom", now.Format(time.RFC3339)), nil
	}
	if bar.IsGapAdjacent && !mod.AllowsGapAdjacent() {
		return nil, reject(GapAdjacentBlocked, "%s does not trade gap-adjacent bars", mod.Name()), nil
	}

	if ok, why := mod.SessionPolicy().Allow(inst.Name, now); !ok {
		return nil, reject(SessionBlocked, "%s", why), nil
	}

	if st.Performance.InCooldown(mod.Name(), now) {
		return nil, reject(StrategyCooldown, "%s paused until %s", mod.Name(),
			st.Performance.CooldownUntil(mod.Name()).Format(time.RFC3339)), nil
	}

	costs := pl.machine.Costs()
	entry := costs.EntryFill(inst, sig.Direction, sig.Entry)
	if blocked, why := st.Levels.Blocked(inst, mod.Name(), entry, now); blocked {
		return nil, reject(PriceLevelCooldown, "%s", why), nil
	}

	if blocked, why := st.Exposure().Blocked(inst, pl.cfg.MaxCurrencyExposure); blocked {
		return nil, reject(CorrelationBlocked, "%s", why), nil
	}

	sz, err := pl.sizer.Size(inst, sig.Direction, entry, sig.Stop, equity, sig.RegimeScore,
		st.Performance.WindowR(mod.Name()), sig.RiskFraction)
	switch {
	case errors.Is(err, risk.ErrInvalidStop):
		return nil, reject(InvalidStop, "%v", err), nil
	case errors.Is(err, risk.ErrStopTooTight):
		return nil, reject(StopTooTight, "%v", err), nil
	case errors.Is(err, risk.ErrRiskTooLow):
		return nil, reject(RiskTooLow, "%v", err), nil
	case err != nil:
		return nil, nil, fmt.Errorf("%w: sizing %s: %v", position.ErrInvariant, sig.Instrument, err)
	}

	id := PositionID(inst.Name, sig.BarTime, mod.Name(), st.NextSequence())
	p := position.New(id, inst, *sig, entry, sz.Lots, sz.RiskFraction, costs.Commission(sz.Lots))
	if err := st.Open(p); err != nil {
		return nil, nil, err
	}

	pl.metrics.Opened.WithLabelValues(mod.Name(), string(sig.Direction)).Inc()
	pl.logger.Info("[ARBITER] position opened",
		zap.String("id", p.ID),
		zap.String("instrument", inst.Name),
		zap.String("module", mod.Name()),
		zap.String("direction", string(p.Direction)),
		zap.Float64("entry", p.EntryPrice),
		zap.Float64("stop", p.StopPrice),
		zap.Float64("lots", p.Lots),
		zap.Float64("risk", sz.RiskFraction),
		zap.Float64("confidence", sz.Confidence),
		zap.Float64("performance", sz.Performance),
		zap.Float64("partial_fraction", p.PartialFraction))
	return p, nil, nil
}
