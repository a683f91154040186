package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/bars"
	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/execution"
	"github.com/rangefx-bot/pkg/feed"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/position"
	"github.com/rangefx-bot/pkg/regime"
	"github.com/rangefx-bot/pkg/replay"
	"github.com/rangefx-bot/pkg/report"
)

// loadSeries reads ticks and builds bars for every configured pair.
// Instruments with missing or broken data are skipped with a warning.
func loadSeries(cfg *config.Config, saveBars bool, logger *zap.Logger) map[string]*replay.Series {
	store := bars.NewStore(cfg.BarDir)
	data := make(map[string]*replay.Series)
	for _, pair := range cfg.Pairs {
		inst, err := config.Lookup(pair)
		if err != nil {
			logger.Warn("[FEED] skipping pair", zap.String("pair", pair), zap.Error(err))
			continue
		}
		fmt.Printf("  Loading %s...\n", pair)
		ticks, err := feed.LoadTicks(cfg.TickDir, pair)
		if err != nil {
			logger.Warn("[FEED] skipping pair", zap.String("pair", pair), zap.Error(err))
			continue
		}
		s, err := replay.BuildSeries(inst, ticks)
		if err != nil {
			logger.Warn("[FEED] skipping pair", zap.String("pair", pair), zap.Error(err))
			continue
		}
		logger.Info("[FEED] series built",
			zap.String("pair", pair),
			zap.Int("ticks", len(ticks)),
			zap.Int("bars", len(s.Bars)))
		if saveBars {
			persistBars(store, inst, s.Bars, logger)
		}
		data[pair] = s
	}
	return data
}

// persistBars appends the bars newer than what the store already holds
func persistBars(store *bars.Store, inst config.Instrument, built []bars.Bar, logger *zap.Logger) {
	pips := int(inst.BarPips)
	stored, _, err := store.Load(inst.Name, pips)
	if err != nil {
		logger.Warn("[STORE] failed to read bar store", zap.String("pair", inst.Name), zap.Error(err))
		return
	}
	fresh := built
	if len(stored) > 0 {
		last := stored[len(stored)-1].EndTime
		fresh = fresh[:0:0]
		for _, b := range built {
			if b.EndTime.After(last) {
				fresh = append(fresh, b)
			}
		}
	}
	if len(fresh) == 0 {
		return
	}
	meta, err := store.Append(inst.Name, pips, fresh)
	if err != nil {
		logger.Warn("[STORE] failed to append bars", zap.String("pair", inst.Name), zap.Error(err))
		return
	}
	logger.Info("[STORE] bars appended",
		zap.String("pair", inst.Name),
		zap.Int("appended", len(fresh)),
		zap.Int("total", meta.BarCount),
		zap.Int("phantom", meta.PhantomCount),
		zap.Int("gap_adjacent", meta.GapCount))
}

// runBacktest replays the whole dataset once with the given calibration
func runBacktest(ctx context.Context, cfg *config.Config, cal regime.Calibration, calendar *gating.Calendar,
	data map[string]*replay.Series, out string, logger *zap.Logger) error {
	engine := replay.NewEngine(cfg, cal, calendar, logger)

	records, err := report.NewCSVWriter(out, cal.Source)
	if err != nil {
		return err
	}
	defer records.Close()
	engine.AddListener(records)

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, engine.Metrics().Handler(), logger)
		defer srv.Close()
	}

	if cfg.BridgeURL != "" {
		bridge, err := execution.DialBridge(ctx, cfg.BridgeURL, logger)
		if err != nil {
			logger.Warn("[BRIDGE] live bridge unavailable, continuing without it", zap.Error(err))
		} else {
			defer bridge.Close()
			engine.AddListener(&bridgeForwarder{bridge: bridge, logger: logger})
		}
	}

	fmt.Println("Running replay...")
	res, err := engine.Run(ctx, data)
	if res == nil {
		return err
	}
	if errors.Is(err, context.Canceled) {
		fmt.Println("Replay interrupted, reporting partial results")
	} else if err != nil {
		return err
	}

	if cfg.ClickHouseAddr != "" {
		if err := exportClickHouse(cfg, res, logger); err != nil {
			logger.Warn("[REPORT] ClickHouse export failed", zap.Error(err))
		}
	}

	recs, err := report.Records(res.Closed, res.CalibrationSource)
	if err != nil {
		return err
	}
	fmt.Printf("\nReplayed %d events from %s to %s\n", res.Events,
		res.Start.Format(time.DateOnly), res.End.Format(time.DateOnly))
	if len(res.Skipped) > 0 {
		fmt.Printf("Skipped pairs: %v\n", res.Skipped)
	}
	report.Print(os.Stdout, report.Summarize(recs), &report.RunStats{
		InitialEquity:     res.InitialEquity,
		FinalEquity:       res.FinalEquity,
		MaxDrawdown:       res.MaxDrawdown,
		Rejections:        res.Rejections,
		CalibrationSource: res.CalibrationSource,
	})
	fmt.Printf("\nTrade records appended to %s (%d rows)\n", records.Path(), records.Rows())
	return nil
}

// runWalkForward runs the train/test cycles and writes the out-of-sample trades
func runWalkForward(ctx context.Context, cfg *config.Config, calendar *gating.Calendar,
	data map[string]*replay.Series, trainMonths, testMonths int, out string, logger *zap.Logger) error {
	cycles, err := replay.WalkForward(ctx, cfg, calendar, data, trainMonths, testMonths, logger)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		return fmt.Errorf("dataset too short for %d+%d month cycles", trainMonths, testMonths)
	}

	records, err := report.NewCSVWriter(out, "walkforward")
	if err != nil {
		return err
	}
	defer records.Close()

	var all []report.Record
	fmt.Println("\n=== WALK-FORWARD CYCLES ===")
	for _, c := range cycles {
		recs, err := report.Records(c.TestTrades, c.Run.CalibrationSource)
		if err != nil {
			return err
		}
		if err := records.Write(recs...); err != nil {
			return err
		}
		all = append(all, recs...)
		s := report.Summarize(recs)
		fmt.Printf("%s  trades=%d  win=%.1f%%  R=%.2f  equity $%s -> $%s\n",
			c.Cycle, s.Total.Trades, s.Total.WinRate(), s.Total.TotalR,
			c.StartEquity.StringFixed(2), c.EndEquity.StringFixed(2))
	}

	first, last := cycles[0], cycles[len(cycles)-1]
	report.Print(os.Stdout, report.Summarize(all), &report.RunStats{
		InitialEquity:     first.StartEquity,
		FinalEquity:       last.EndEquity,
		MaxDrawdown:       last.Run.MaxDrawdown,
		Rejections:        last.Run.Rejections,
		CalibrationSource: last.Run.CalibrationSource,
	})
	fmt.Printf("\nOut-of-sample records appended to %s (%d rows)\n", records.Path(), records.Rows())
	return nil
}

func exportClickHouse(cfg *config.Config, res *replay.Result, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sink, err := report.OpenClickHouse(ctx, cfg.ClickHouseAddr, cfg.ClickHouseDatabase, cfg.ClickHouseTable, logger)
	if err != nil {
		return err
	}
	defer sink.Close()
	recs, err := report.Records(res.Closed, res.CalibrationSource)
	if err != nil {
		return err
	}
	return sink.Write(ctx, recs)
}

func serveMetrics(addr string, handler http.Handler, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("[METRICS] server stopped", zap.Error(err))
		}
	}()
	logger.Info("[METRICS] serving", zap.String("addr", addr))
	return srv
}

// bridgeForwarder sends intents to the live bridge without letting a
// transport failure halt the replay
type bridgeForwarder struct {
	bridge *execution.BridgeClient
	logger *zap.Logger
}

func (bf *bridgeForwarder) PositionOpened(p *position.Position) error {
	if err := bf.bridge.PositionOpened(p); err != nil {
		bf.logger.Warn("[BRIDGE] intent not delivered", zap.String("position_id", p.ID), zap.Error(err))
	}
	return nil
}

func (bf *bridgeForwarder) PositionClosed(p *position.Position) error {
	return bf.bridge.PositionClosed(p)
}
