package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// csvTimeLayouts are the timestamp formats accepted in tick CSV exports
var csvTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006.01.02 15:04:05.000",
	"2006.01.02 15:04:05",
}

// ReadTicksCSV reads a time,bid,ask CSV. Terminal exports are often UTF-16
// with a BOM, so the input is decoded through a BOM-sniffing transformer.
func ReadTicksCSV(path, instrument string) ([]Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tick file: %w", err)
	}
	defer f.Close()

	decoded := transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var ticks []Tick
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv read %s: %w", path, err)
		}
		line++
		if len(rec) < 3 {
			return nil, fmt.Errorf("%w: %s line %d has %d fields", ErrMalformedTick, instrument, line, len(rec))
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
			continue // header
		}

		ts, err := parseTickTime(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedTick, instrument, line, err)
		}
		bid, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d bid: %v", ErrMalformedTick, instrument, line, err)
		}
		ask, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d ask: %v", ErrMalformedTick, instrument, line, err)
		}
		ticks = append(ticks, Tick{Instrument: instrument, Time: ts, Bid: bid, Ask: ask})
	}
	return ticks, nil
}

func parseTickTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// LoadTicks loads and validates the archived ticks for an instrument from dir,
// preferring {PAIR}.arrow over {PAIR}.csv.
func LoadTicks(dir, instrument string) ([]Tick, error) {
	arrowPath := filepath.Join(dir, instrument+".arrow")
	csvPath := filepath.Join(dir, instrument+".csv")

	var (
		ticks []Tick
		err   error
	)
	switch {
	case fileExists(arrowPath):
		ticks, err = ReadTicksArrow(arrowPath, instrument)
	case fileExists(csvPath):
		ticks, err = ReadTicksCSV(csvPath, instrument)
	default:
		return nil, fmt.Errorf("%w: no %s.arrow or %s.csv in %s", ErrNoData, instrument, instrument, dir)
	}
	if err != nil {
		return nil, err
	}
	if err := Validate(ticks); err != nil {
		return nil, err
	}
	return ticks, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
