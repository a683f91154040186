package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/feed"
	"github.com/rangefx-bot/pkg/logging"
	"github.com/rangefx-bot/pkg/regime"
	"github.com/rangefx-bot/pkg/replay"
)

func main() {
	// Parse command-line flags
	pairsFlag := flag.String("pairs", "", "Comma separated pairs to calibrate on (default: PAIRS from .env)")
	ticksFlag := flag.String("ticks", "", "Tick archive directory (default: TICK_DIR)")
	outFlag := flag.String("out", "", "Calibration output, .yaml or .json (default: CALIBRATION_PATH)")
	holdoutFlag := flag.Int("holdout", 2, "Trailing months excluded from calibration")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *pairsFlag != "" {
		cfg.Pairs = config.ParseCommaList(strings.ToUpper(*pairsFlag))
	}
	if *ticksFlag != "" {
		cfg.TickDir = *ticksFlag
	}
	if *outFlag != "" {
		cfg.CalibrationPath = *outFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	fmt.Println("Calibrating regime thresholds...")
	fmt.Printf("Pairs: %v\n", cfg.Pairs)
	fmt.Printf("Holdout: %d month(s)\n", *holdoutFlag)

	history := make(map[string]regime.PairHistory)
	for _, pair := range cfg.Pairs {
		inst, err := config.Lookup(pair)
		if err != nil {
			logger.Warn("[CALIBRATE] skipping pair", zap.String("pair", pair), zap.Error(err))
			continue
		}
		ticks, err := feed.LoadTicks(cfg.TickDir, pair)
		if err != nil {
			logger.Warn("[CALIBRATE] skipping pair", zap.String("pair", pair), zap.Error(err))
			continue
		}
		s, err := replay.BuildSeries(inst, ticks)
		if err != nil {
			logger.Warn("[CALIBRATE] skipping pair", zap.String("pair", pair), zap.Error(err))
			continue
		}
		history[pair] = regime.PairHistory{Coarse: s.Coarse, Fine: s.Fine, Bars: s.Bars}
		fmt.Printf("  %s: %d bars, %d 4H candles, %d 1H candles\n", pair, len(s.Bars), len(s.Coarse), len(s.Fine))
	}
	if len(history) == 0 {
		log.Fatal("No usable tick data. Check TICK_DIR and PAIRS in .env")
	}

	cal := regime.Calibrate(history, *holdoutFlag)
	if cal.Source != "" {
		logger.Warn("[CALIBRATE] some thresholds kept their defaults", zap.String("source", cal.Source))
		fmt.Printf("Warning: calibration incomplete (%s)\n", cal.Source)
	}
	if err := cal.Validate(); err != nil {
		log.Fatalf("Calibration produced inconsistent thresholds: %v", err)
	}
	if err := cal.Save(cfg.CalibrationPath); err != nil {
		log.Fatalf("Failed to save calibration: %v", err)
	}

	fmt.Println("\n=== CALIBRATION ===")
	fmt.Printf("Dataset:     %s .. %s\n", cal.DatasetRange.Start, cal.DatasetRange.End)
	fmt.Printf("ADX:         p25 %.2f  p75 %.2f  slope %.2f\n", cal.ADX.P25, cal.ADX.P75, cal.ADXSlopeThreshold)
	fmt.Printf("ATR ratio:   p25 %.3f  p75 %.3f\n", cal.ATRRatio.P25, cal.ATRRatio.P75)
	fmt.Printf("RB speed:    p25 %.2f  p75 %.2f\n", cal.RBSpeed.P25, cal.RBSpeed.P75)
	fmt.Printf("BB width:    p20 %.5f  p80 %.5f\n", cal.BBWidth.P20, cal.BBWidth.P80)
	fmt.Printf("CSM:         widen %.3f  narrow %.3f\n", cal.CSMWidenPct, cal.CSMNarrowPct)
	fmt.Printf("\nCalibration saved to: %s\n", cfg.CalibrationPath)
}
