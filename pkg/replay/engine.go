package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/arbiter"
	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/indicators"
	"github.com/rangefx-bot/pkg/metrics"
	"github.com/rangefx-bot/pkg/portfolio"
	"github.com/rangefx-bot/pkg/position"
	"github.com/rangefx-bot/pkg/regime"
	"github.com/rangefx-bot/pkg/strategy"
)

const (
	atrPeriod      = 14
	maxScoreMemory = 200

	// weekendCloseHour is the UTC hour the market shuts on Friday
	weekendCloseHour = 22
)

// ErrAlreadyRun is returned when Run is called on a used engine
var ErrAlreadyRun = errors.New("engine already ran")

// Listener is notified of position lifecycle changes as the replay advances
type Listener interface {
	PositionOpened(p *position.Position) error
	PositionClosed(p *position.Position) error
}

// Result is the outcome of one replay
type Result struct {
	Closed            []*position.Position // in close order
	EquityCurve       []portfolio.EquityPoint
	InitialEquity     decimal.Decimal
	FinalEquity       decimal.Decimal
	MaxDrawdown       float64
	Rejections        map[string]int
	CalibrationSource string
	Skipped           []string // instruments dropped by integrity checks
	Events            int
	Start             time.Time
	End               time.Time
}

// Engine replays one dataset. An engine runs once; its metrics describe
// that single run.
type Engine struct {
	cfg       *config.Config
	cal       regime.Calibration
	calendar  *gating.Calendar
	registry  *strategy.Registry
	machine   *position.Machine
	pipeline  *arbiter.Pipeline
	metrics   *metrics.Metrics
	logger    *zap.Logger
	listeners []Listener
	ran       bool
}

// NewEngine creates an engine. calendar may be nil for no news events.
func NewEngine(cfg *config.Config, cal regime.Calibration, calendar *gating.Calendar, logger *zap.Logger, opts ...Option) *Engine {
	if calendar == nil {
		calendar = gating.NewCalendar(nil)
	}
	m := metrics.New()
	registry := strategy.DefaultRegistry(cfg.RangeHardSession)
	machine := position.NewMachine(cfg, logger)
	e := &Engine{
		cfg:      cfg,
		cal:      cal,
		calendar: calendar,
		registry: registry,
		machine:  machine,
		pipeline: arbiter.NewPipeline(cfg, calendar, registry, machine, m, logger),
		metrics:  m,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option adjusts an engine at construction
type Option func(*Engine)

// WithRegistry selects from the given decision modules
func WithRegistry(registry *strategy.Registry) Option {
	return func(e *Engine) { e.SetRegistry(registry) }
}

// WithListener registers a lifecycle listener
func WithListener(l Listener) Option {
	return func(e *Engine) { e.AddListener(l) }
}

// Metrics returns the run's collectors
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// SetRegistry replaces the decision modules the engine selects from
func (e *Engine) SetRegistry(registry *strategy.Registry) {
	e.registry = registry
	e.pipeline = arbiter.NewPipeline(e.cfg, e.calendar, registry, e.machine, e.metrics, e.logger)
}

// AddListener registers a lifecycle listener. Listener errors halt the run.
func (e *Engine) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// run is the mutable state of one replay
type run struct {
	data    map[string]*Series
	state   *portfolio.State
	tracker *regime.Tracker
	atr     map[string]*indicators.ATRTracker
	scores  map[string][]float64
	last    map[string]bars.Bar
}

// Run replays every valid series in global bar-close order. A series that
// fails validation is skipped with a warning. Invariant violations stop the
// run with an error wrapping position.ErrInvariant. When ctx is cancelled
// the queue stops being consumed, open positions are closed at their last
// prices and the partial result is returned together with ctx.Err().
func (e *Engine) Run(ctx context.Context, data map[string]*Series) (*Result, error) {
	if e.ran {
		return nil, ErrAlreadyRun
	}
	e.ran = true

	r := &run{
		data:    make(map[string]*Series),
		state:   portfolio.NewState(e.cfg),
		tracker: regime.NewTracker(e.cal, e.cfg.AntiFlipMargin, e.cfg.AntiFlipPersistence),
		atr:     make(map[string]*indicators.ATRTracker),
		scores:  make(map[string][]float64),
		last:    make(map[string]bars.Bar),
	}
	res := &Result{
		InitialEquity:     r.state.Equity(),
		CalibrationSource: e.cal.Source,
	}

	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := data[name]
		if err := s.Validate(); err != nil {
			e.logger.Warn("[REPLAY] skipping instrument", zap.String("instrument", name), zap.Error(err))
			res.Skipped = append(res.Skipped, name)
			continue
		}
		r.data[name] = s
		r.atr[name] = indicators.NewATRTracker(atrPeriod)
	}

	e.logger.Info("[REPLAY] starting",
		zap.Strings("instruments", sortedKeys(r.data)),
		zap.String("calibration", e.cal.Source),
		zap.Float64("equity", e.cfg.InitialEquity))

	var runErr error
	m := newMerger(r.data)
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		ev, ok := m.next()
		if !ok {
			break
		}
		if res.Events == 0 {
			res.Start = ev.end
		}
		res.Events++
		res.End = ev.end
		if err := e.step(r, ev); err != nil {
			return nil, err
		}
	}

	if err := e.closeAll(r, position.ReasonEndOfData); err != nil {
		return nil, err
	}

	res.Closed = r.state.Closed()
	res.EquityCurve = r.state.EquityCurve()
	res.FinalEquity = r.state.Equity()
	res.MaxDrawdown = r.state.MaxDrawdown()
	res.Rejections = e.metrics.RejectionCounts()

	e.logger.Info("[REPLAY] finished",
		zap.Int("events", res.Events),
		zap.Int("trades", len(res.Closed)),
		zap.String("equity", res.FinalEquity.StringFixed(2)),
		zap.Float64("max_drawdown", res.MaxDrawdown))
	return res, runErr
}

// step processes one range bar close
func (e *Engine) step(r *run, ev event) error {
	s := r.data[ev.instrument]
	bar := s.Bars[ev.index]
	now := bar.EndTime
	r.last[ev.instrument] = bar

	if r.state.Rollover(now) {
		e.logger.Debug("[REPLAY] daily rollover", zap.Time("day", r.state.Daily.Day()))
	}

	in := regime.Inputs{
		Instrument: ev.instrument,
		Now:        now,
		Coarse:     CandlesAt(s.Coarse, now),
		Fine:       CandlesAt(s.Fine, now),
		Bars:       s.Bars[:ev.index+1],
		Basket:     basketAt(r.data, now, false),
		FineBasket: basketAt(r.data, now, true),
	}
	reading, err := r.tracker.Update(in)
	if err != nil {
		return fmt.Errorf("%w: %v", position.ErrInvariant, err)
	}
	e.metrics.Regime.WithLabelValues(ev.instrument).Set(reading.Composite)
	if reading.Observed {
		e.logger.Debug("[REGIME] coarse observation",
			zap.String("instrument", ev.instrument),
			zap.Float64("composite", reading.Composite),
			zap.Float64("effective", reading.Effective),
			zap.String("regime", string(reading.Regime)))
	}

	hist := append(r.scores[ev.instrument], reading.Effective)
	if len(hist) > maxScoreMemory {
		hist = hist[len(hist)-maxScoreMemory:]
	}
	r.scores[ev.instrument] = hist

	atr := r.atr[ev.instrument].Update(bar.High, bar.Low, bar.Close)

	if err := e.manageExits(r, ev.instrument, bar, reading.Composite, atr); err != nil {
		return err
	}

	if r.state.Daily.CapHit() {
		if r.state.OpenCount() > 0 {
			e.logger.Warn("[RISK] daily loss cap hit, closing all positions",
				zap.Float64("loss_r", r.state.Daily.LossR()),
				zap.Time("time", now))
			if err := e.closeAll(r, position.ReasonDailyLossCap); err != nil {
				return err
			}
		}
		return nil
	}

	if inWeekendWindow(now, e.cfg.WeekendCloseMinutes) {
		if r.state.OpenCount() > 0 {
			e.logger.Info("[REPLAY] weekend close", zap.Time("time", now))
			if err := e.closeAll(r, position.ReasonWeekendClose); err != nil {
				return err
			}
		}
		return nil
	}

	if reading.Warmup {
		return nil
	}
	return e.enter(r, s, ev.index, reading)
}

// manageExits feeds the bar to every open position of its instrument and
// settles the ones that closed
func (e *Engine) manageExits(r *run, instrument string, bar bars.Bar, liveScore, atr float64) error {
	for _, p := range r.state.OpenFor(instrument) {
		events, err := e.machine.OnBar(p, bar, liveScore, atr)
		if err != nil {
			return err
		}
		for _, ev := range events {
			switch ev.Kind {
			case position.EventPartial:
				e.metrics.Partials.WithLabelValues(p.Module).Inc()
			case position.EventClose:
				e.metrics.Exits.WithLabelValues(string(ev.Reason)).Inc()
			}
		}
		if !p.IsOpen() {
			if err := e.settle(r, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// enter selects the module for the effective score, asks it for a signal
// and hands any signal to the pipeline
func (e *Engine) enter(r *run, s *Series, index int, reading regime.Reading) error {
	mod := e.registry.Select(reading.Effective)
	if mod == nil {
		return nil
	}
	bar := s.Bars[index]
	now := bar.EndTime
	_, newsBlocked := e.calendar.Blocked(s.Instrument.Name, now)

	sig, why := mod.Propose(strategy.Input{
		Instrument:   s.Instrument,
		Bars:         s.Bars[:index+1],
		Coarse:       CandlesAt(s.Coarse, now),
		Fine:         CandlesAt(s.Fine, now),
		Score:        reading.Effective,
		Regime:       reading.Regime,
		ScoreHistory: r.scores[s.Instrument.Name],
		Gating: strategy.GatingState{
			NewsBlocked:      newsBlocked,
			PostEventCooling: e.calendar.PostEventCooling(s.Instrument.Name, now),
			Session:          gating.Tag(now),
		},
		Now: now,
	})
	if sig == nil {
		if why != nil {
			e.logger.Debug("[SIGNAL] no setup",
				zap.String("instrument", s.Instrument.Name),
				zap.String("module", mod.Name()),
				zap.String("reason", why.Error()))
		}
		return nil
	}
	e.metrics.Signals.WithLabelValues(mod.Name()).Inc()

	p, rej, err := e.pipeline.Admit(sig, bar, r.state)
	if err != nil {
		return err
	}
	if rej != nil {
		return nil
	}
	for _, l := range e.listeners {
		if err := l.PositionOpened(p); err != nil {
			return fmt.Errorf("listener rejected open of %s: %v", p.ID, err)
		}
	}
	return nil
}

// closeAll force-closes every open position at its instrument's last bar
// close
func (e *Engine) closeAll(r *run, reason position.CloseReason) error {
	for _, p := range r.state.OpenPositions() {
		last, ok := r.last[p.Instrument.Name]
		if !ok {
			return fmt.Errorf("%w: no price for open position %s", position.ErrInvariant, p.ID)
		}
		ev, err := e.machine.ForceClose(p, reason, last.Close, last.EndTime)
		if err != nil {
			return err
		}
		e.metrics.Exits.WithLabelValues(string(ev.Reason)).Inc()
		if err := e.settle(r, p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) settle(r *run, p *position.Position) error {
	if err := r.state.Settle(p); err != nil {
		return err
	}
	e.metrics.Equity.Set(r.state.EquityFloat())
	e.logger.Info("[REPLAY] position closed",
		zap.String("id", p.ID),
		zap.String("instrument", p.Instrument.Name),
		zap.String("module", p.Module),
		zap.String("reason", string(p.CloseReason)),
		zap.Float64("r", p.RealizedR),
		zap.String("pnl", p.PnL.StringFixed(2)),
		zap.String("equity", r.state.Equity().StringFixed(2)))
	for _, l := range e.listeners {
		if err := l.PositionClosed(p); err != nil {
			return fmt.Errorf("listener rejected close of %s: %v", p.ID, err)
		}
	}
	return nil
}

// inWeekendWindow reports whether t is in the last minutes before the
// Friday market close, or past it
func inWeekendWindow(t time.Time, minutes int) bool {
	t = t.UTC()
	switch t.Weekday() {
	case time.Friday:
		cutoff := time.Date(t.Year(), t.Month(), t.Day(), weekendCloseHour, 0, 0, 0, time.UTC).
			Add(-time.Duration(minutes) * time.Minute)
		return !t.Before(cutoff)
	case time.Saturday:
		return true
	}
	return false
}

func sortedKeys(m map[string]*Series) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
