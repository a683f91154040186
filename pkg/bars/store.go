package bars

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/rangefx-bot/pkg/feed"
)

// BarSchema is the columnar layout of a persisted range bar file
var BarSchema = arrow.NewSchema([]arrow.Field{
	{Name: "start_time", Type: arrow.PrimitiveTypes.Int64},
	{Name: "end_time", Type: arrow.PrimitiveTypes.Int64},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "tick_count", Type: arrow.PrimitiveTypes.Int64},
	{Name: "is_phantom", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "is_gap_adjacent", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "tick_boundary_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "partial", Type: arrow.FixedWidthTypes.Boolean},
}, nil)

// StoreMetadata describes a persisted bar file
type StoreMetadata struct {
	Instrument   string    `json:"instrument"`
	BarPips      int       `json:"bar_pips"`
	BarCount     int       `json:"bar_count"`
	PhantomCount int       `json:"phantom_count"`
	GapCount     int       `json:"gap_adjacent_count"`
	FirstBar     time.Time `json:"first_bar"`
	LastBar      time.Time `json:"last_bar"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists range bars per instrument as Arrow IPC files with a JSON
// metadata sidecar. Bars are only ever appended.
type Store struct {
	dir string
}

// NewStore creates a bar store rooted at dir
func NewStore(dir string) *Store {
	if dir == "" {
		dir = "data/bars"
	}
	return &Store{dir: dir}
}

// BarPath returns the bar file path for an instrument and bar size
func (s *Store) BarPath(instrument string, pips int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_RB%d.arrow", instrument, pips))
}

// MetadataPath returns the metadata file path for an instrument and bar size
func (s *Store) MetadataPath(instrument string, pips int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_RB%d_metadata.json", instrument, pips))
}

// Load reads persisted bars. A missing file yields no bars and no error.
func (s *Store) Load(instrument string, pips int) ([]Bar, *StoreMetadata, error) {
	meta, err := s.loadMetadata(instrument, pips)
	if err != nil {
		return nil, nil, err
	}
	bars, err := readBars(s.BarPath(instrument, pips), instrument)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return bars, meta, nil
}

// Append adds bars after the ones already stored. Bars ending before the
// last stored bar are rejected; existing bars are never rewritten in place.
func (s *Store) Append(instrument string, pips int, bars []Bar) (*StoreMetadata, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bar directory: %v", err)
	}
	existing, _, err := s.Load(instrument, pips)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 && len(bars) > 0 {
		last := existing[len(existing)-1].EndTime
		if bars[0].EndTime.Before(last) {
			return nil, fmt.Errorf("%w: %s bar ending %s precedes stored bar ending %s", feed.ErrOutOfOrder,
				instrument, bars[0].EndTime.Format(time.RFC3339), last.Format(time.RFC3339))
		}
	}
	all := append(existing, bars...)

	tmp := s.BarPath(instrument, pips) + ".tmp"
	if err := writeBars(tmp, all); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, s.BarPath(instrument, pips)); err != nil {
		return nil, fmt.Errorf("failed to replace bar file: %v", err)
	}

	meta := StoreMetadata{
		Instrument: instrument,
		BarPips:    pips,
		BarCount:   len(all),
		UpdatedAt:  time.Now().UTC(),
	}
	for _, b := range all {
		if b.IsPhantom {
			meta.PhantomCount++
		}
		if b.IsGapAdjacent {
			meta.GapCount++
		}
	}
	if len(all) > 0 {
		meta.FirstBar = all[0].StartTime
		meta.LastBar = all[len(all)-1].EndTime
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(s.MetadataPath(instrument, pips), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %v", err)
	}
	return &meta, nil
}

func (s *Store) loadMetadata(instrument string, pips int) (*StoreMetadata, error) {
	data, err := os.ReadFile(s.MetadataPath(instrument, pips))
	if err != nil {
		return nil, nil // no metadata yet
	}
	var meta StoreMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("invalid bar metadata for %s: %v", instrument, err)
	}
	return &meta, nil
}

func writeBars(path string, bars []Bar) error {
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, BarSchema)
	defer b.Release()

	for _, bar := range bars {
		b.Field(0).(*array.Int64Builder).Append(bar.StartTime.UnixNano())
		b.Field(1).(*array.Int64Builder).Append(bar.EndTime.UnixNano())
		b.Field(2).(*array.Float64Builder).Append(bar.Open)
		b.Field(3).(*array.Float64Builder).Append(bar.High)
		b.Field(4).(*array.Float64Builder).Append(bar.Low)
		b.Field(5).(*array.Float64Builder).Append(bar.Close)
		b.Field(6).(*array.Int64Builder).Append(int64(bar.TickCount))
		b.Field(7).(*array.BooleanBuilder).Append(bar.IsPhantom)
		b.Field(8).(*array.BooleanBuilder).Append(bar.IsGapAdjacent)
		b.Field(9).(*array.Float64Builder).Append(bar.TickBoundaryPrice)
		b.Field(10).(*array.BooleanBuilder).Append(bar.Partial)
	}
	rec := b.NewRecord()
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create bar file: %v", err)
	}
	defer f.Close()

	w := ipc.NewWriter(f, ipc.WithSchema(BarSchema), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write bar record: %v", err)
	}
	return w.Close()
}

func readBars(path, instrument string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rdr, err := ipc.NewReader(f, ipc.WithAllocator(memory.NewGoAllocator()), ipc.WithSchema(BarSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file %s: %v", path, err)
	}
	defer rdr.Release()

	var out []Bar
	for rdr.Next() {
		rec := rdr.Record()
		starts := rec.Column(0).(*array.Int64)
		ends := rec.Column(1).(*array.Int64)
		opens := rec.Column(2).(*array.Float64)
		highs := rec.Column(3).(*array.Float64)
		lows := rec.Column(4).(*array.Float64)
		closes := rec.Column(5).(*array.Float64)
		counts := rec.Column(6).(*array.Int64)
		phantoms := rec.Column(7).(*array.Boolean)
		gaps := rec.Column(8).(*array.Boolean)
		boundaries := rec.Column(9).(*array.Float64)
		partials := rec.Column(10).(*array.Boolean)
		for i := 0; i < int(rec.NumRows()); i++ {
			out = append(out, Bar{
				Instrument:        instrument,
				StartTime:         time.Unix(0, starts.Value(i)).UTC(),
				EndTime:           time.Unix(0, ends.Value(i)).UTC(),
				Open:              opens.Value(i),
				High:              highs.Value(i),
				Low:               lows.Value(i),
				Close:             closes.Value(i),
				TickCount:         int(counts.Value(i)),
				IsPhantom:         phantoms.Value(i),
				IsGapAdjacent:     gaps.Value(i),
				TickBoundaryPrice: boundaries.Value(i),
				Partial:           partials.Value(i),
			})
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bar file %s: %v", path, err)
	}
	return out, nil
}
