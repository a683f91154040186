package feed

import (
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
)

// TickSchema is the columnar layout of an archived tick file
var TickSchema = arrow.NewSchema([]arrow.Field{
	{Name: "time", Type: arrow.PrimitiveTypes.Int64},
	{Name: "bid", Type: arrow.PrimitiveTypes.Float64},
	{Name: "ask", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// ReadTicksArrow reads an Arrow IPC stream of ticks for one instrument
func ReadTicksArrow(path, instrument string) ([]Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tick file: %w", err)
	}
	defer f.Close()

	rdr, err := ipc.NewReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("failed to open arrow stream %s: %w", path, err)
	}
	defer rdr.Release()

	var ticks []Tick
	for rdr.Next() {
		rec := rdr.Record()
		timeCol, err := int64Column(rec, "time")
		if err != nil {
			return nil, err
		}
		bidCol, err := float64Column(rec, "bid")
		if err != nil {
			return nil, err
		}
		askCol, err := float64Column(rec, "ask")
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			if timeCol.IsNull(i) || bidCol.IsNull(i) || askCol.IsNull(i) {
				return nil, fmt.Errorf("%w: %s row %d has null fields", ErrMalformedTick, instrument, len(ticks))
			}
			ticks = append(ticks, Tick{
				Instrument: instrument,
				Time:       time.Unix(0, timeCol.Value(i)).UTC(),
				Bid:        bidCol.Value(i),
				Ask:        askCol.Value(i),
			})
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("failed to read arrow stream %s: %w", path, err)
	}
	return ticks, nil
}

// WriteTicksArrow writes ticks as a single-batch Arrow IPC stream
func WriteTicksArrow(path string, ticks []Tick) error {
	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, TickSchema)
	defer b.Release()

	times := make([]int64, len(ticks))
	bids := make([]float64, len(ticks))
	asks := make([]float64, len(ticks))
	for i, t := range ticks {
		times[i] = t.Time.UnixNano()
		bids[i] = t.Bid
		asks[i] = t.Ask
	}
	b.Field(0).(*array.Int64Builder).AppendValues(times, nil)
	b.Field(1).(*array.Float64Builder).AppendValues(bids, nil)
	b.Field(2).(*array.Float64Builder).AppendValues(asks, nil)

	rec := b.NewRecord()
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create tick file: %w", err)
	}
	defer f.Close()

	w := ipc.NewWriter(f, ipc.WithSchema(TickSchema), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write arrow record: %w", err)
	}
	return w.Close()
}

func int64Column(rec arrow.Record, name string) (*array.Int64, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: missing column %q", ErrMalformedTick, name)
	}
	col, ok := rec.Column(idx[0]).(*array.Int64)
	if !ok {
		return nil, fmt.Errorf("%w: column %q is %s, want int64", ErrMalformedTick, name, rec.Column(idx[0]).DataType())
	}
	return col, nil
}

func float64Column(rec arrow.Record, name string) (*array.Float64, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: missing column %q", ErrMalformedTick, name)
	}
	col, ok := rec.Column(idx[0]).(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: column %q is %s, want float64", ErrMalformedTick, name, rec.Column(idx[0]).DataType())
	}
	return col, nil
}
