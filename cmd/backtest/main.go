package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/logging"
	"github.com/rangefx-bot/pkg/regime"
	"github.com/rangefx-bot/pkg/replay"
)

func main() {
	// Parse command-line flags
	pairsFlag := flag.String("pairs", "", "Comma separated pairs to replay (default: PAIRS from .env)")
	equityFlag := flag.Float64("equity", 0, "Initial account equity (default: INITIAL_EQUITY from .env)")
	calibrationFlag := flag.String("calibration", "", "Calibration document path (default: CALIBRATION_PATH)")
	ticksFlag := flag.String("ticks", "", "Tick archive directory (default: TICK_DIR)")
	outFlag := flag.String("out", "", "Trade record CSV (default: RESULTS_DIR/trades.csv)")
	saveBarsFlag := flag.Bool("save-bars", false, "Append built range bars to the bar store")
	walkForwardFlag := flag.Bool("walkforward", false, "Run walk-forward cycles instead of a single replay")
	trainFlag := flag.Int("train-months", replay.DefaultTrainMonths, "Walk-forward train window in months")
	testFlag := flag.Int("test-months", replay.DefaultTestMonths, "Walk-forward test window in months")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *pairsFlag != "" {
		cfg.Pairs = config.ParseCommaList(strings.ToUpper(*pairsFlag))
	}
	if *equityFlag > 0 {
		cfg.InitialEquity = *equityFlag
	}
	if *calibrationFlag != "" {
		cfg.CalibrationPath = *calibrationFlag
	}
	if *ticksFlag != "" {
		cfg.TickDir = *ticksFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	out := *outFlag
	if out == "" {
		out = filepath.Join(cfg.ResultsDir, "trades.csv")
	}

	fmt.Printf("Starting backtest...\n")
	fmt.Printf("Pairs: %v\n", cfg.Pairs)
	fmt.Printf("Initial Equity: $%.2f\n", cfg.InitialEquity)
	fmt.Printf("Tick Directory: %s\n", cfg.TickDir)
	fmt.Printf("Trade Records: %s\n", out)
	fmt.Printf("Walk-forward: %v\n", *walkForwardFlag)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	calendar, err := gating.LoadCalendar(cfg.NewsPath, logger)
	if err != nil {
		log.Fatalf("Failed to load news events: %v", err)
	}

	start := time.Now()
	data := loadSeries(cfg, *saveBarsFlag, logger)
	if len(data) == 0 {
		log.Fatal("No usable tick data. Check TICK_DIR and PAIRS in .env")
	}
	fmt.Printf("Built range bars for %d pair(s) in %s\n", len(data), time.Since(start).Round(time.Millisecond))

	if *walkForwardFlag {
		if err := runWalkForward(ctx, cfg, calendar, data, *trainFlag, *testFlag, out, logger); err != nil {
			log.Fatalf("Walk-forward failed: %v", err)
		}
		return
	}

	cal, err := regime.LoadCalibration(cfg.CalibrationPath)
	if err != nil {
		logger.Warn("[REGIME] using default calibration",
			zap.String("path", cfg.CalibrationPath), zap.Error(err))
	}
	if err := runBacktest(ctx, cfg, cal, calendar, data, out, logger); err != nil {
		log.Fatalf("Backtest failed: %v", err)
	}
}
