package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rangefx-bot/pkg/position"
)

// CSVWriter appends trade records to a file. Existing rows are never
// rewritten; the header is written only when the file is new.
type CSVWriter struct {
	mu                sync.Mutex
	path              string
	file              *os.File
	w                 *csv.Writer
	calibrationSource string
	rows              int
}

// NewCSVWriter opens path for appending, creating it and its directory
// when missing
func NewCSVWriter(path, calibrationSource string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %v", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open record file: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat record file: %v", err)
	}
	cw := &CSVWriter{path: path, file: f, w: csv.NewWriter(f), calibrationSource: calibrationSource}
	if info.Size() == 0 {
		if err := cw.w.Write(Header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %v", err)
		}
	}
	return cw, nil
}

// Path returns the file being written
func (cw *CSVWriter) Path() string {
	return cw.path
}

// Rows returns the records written by this writer
func (cw *CSVWriter) Rows() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.rows
}

// Write appends records and flushes them to disk
func (cw *CSVWriter) Write(records ...Record) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	for _, r := range records {
		if err := cw.w.Write(r.Row()); err != nil {
			return fmt.Errorf("failed to write record %s: %v", r.ID, err)
		}
		cw.rows++
	}
	cw.w.Flush()
	return cw.w.Error()
}

// PositionOpened implements the replay listener; opens are not recorded
func (cw *CSVWriter) PositionOpened(*position.Position) error {
	return nil
}

// PositionClosed appends the record of a closed position
func (cw *CSVWriter) PositionClosed(p *position.Position) error {
	rec, err := FromPosition(p, cw.calibrationSource)
	if err != nil {
		return err
	}
	return cw.Write(rec)
}

// Close flushes and closes the file
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.w.Flush()
	if err := cw.w.Error(); err != nil {
		cw.file.Close()
		return err
	}
	return cw.file.Close()
}

// ReadCSV loads every record of a file written by CSVWriter
func ReadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	var out []Record
	line := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv read %s: %w", path, err)
		}
		line++
		if line == 1 && len(row) > 0 && row[0] == Header[0] {
			continue
		}
		rec, err := ParseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %v", path, line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
