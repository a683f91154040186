package bars

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/feed"
)

var t0 = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func tick(offset time.Duration, price float64) feed.Tick {
	return feed.Tick{Instrument: "USDJPY", Time: t0.Add(offset), Bid: price, Ask: price}
}

func feedAll(t *testing.T, b *Builder, ticks ...feed.Tick) []Bar {
	t.Helper()
	var out []Bar
	for _, tk := range ticks {
		got, err := b.Feed(tk)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		out = append(out, got...)
	}
	return out
}

func TestBuilderSingleBar(t *testing.T) {
	b := NewBuilder(config.MustLookup("USDJPY"))
	got := feedAll(t, b,
		tick(0, 150.00),
		tick(time.Second, 150.10),
		tick(2*time.Second, 150.16),
	)
	if len(got) != 1 {
		t.Fatalf("got %d bars, want 1", len(got))
	}
	bar := got[0]
	if bar.Open != 150.00 || bar.Close != 150.15 || bar.High != 150.15 || bar.Low != 150.00 {
		t.Errorf("bar OHLC = %v/%v/%v/%v", bar.Open, bar.High, bar.Low, bar.Close)
	}
	if bar.IsPhantom || bar.IsGapAdjacent {
		t.Errorf("single bar flagged phantom=%v gap=%v", bar.IsPhantom, bar.IsGapAdjacent)
	}
	if bar.TickCount != 3 {
		t.Errorf("TickCount = %d, want 3", bar.TickCount)
	}
	if bar.TickBoundaryPrice != 150.16 {
		t.Errorf("TickBoundaryPrice = %v, want 150.16", bar.TickBoundaryPrice)
	}
}

func TestBuilderMultiBarTick(t *testing.T) {
	b := NewBuilder(config.MustLookup("USDJPY"))
	feedAll(t, b, tick(0, 150.00), tick(time.Second, 150.16))

	got := feedAll(t, b, tick(2*time.Second, 149.70))
	if len(got) != 3 {
		t.Fatalf("got %d bars, want 3", len(got))
	}
	if !got[0].IsGapAdjacent || got[0].IsPhantom {
		t.Errorf("first bar gap=%v phantom=%v, want gap-adjacent only", got[0].IsGapAdjacent, got[0].IsPhantom)
	}
	for i, bar := range got[1:] {
		if !bar.IsPhantom || bar.IsGapAdjacent {
			t.Errorf("bar %d gap=%v phantom=%v, want phantom only", i+1, bar.IsGapAdjacent, bar.IsPhantom)
		}
		if bar.FillPrice(bar.Close) != 149.70 {
			t.Errorf("bar %d fills at %v, want tick boundary 149.70", i+1, bar.FillPrice(bar.Close))
		}
	}
	wantCloses := []float64{150.00, 149.85, 149.70}
	for i, bar := range got {
		if math.Abs(bar.Close-wantCloses[i]) > 1e-9 {
			t.Errorf("bar %d close = %v, want %v", i, bar.Close, wantCloses[i])
		}
		if !bar.IsDown() {
			t.Errorf("bar %d is not a down bar", i)
		}
	}
}

func TestBuilderRangeInvariant(t *testing.T) {
	b := NewBuilder(config.MustLookup("EURUSD"))
	price := 1.08500
	var all []Bar
	// deterministic zig-zag walk
	for i := 0; i < 2000; i++ {
		step := 0.00007
		if (i/37)%2 == 1 {
			step = -0.00009
		}
		if i%101 == 0 {
			step *= 6
		}
		price += step
		got, err := b.Feed(feed.Tick{Instrument: "EURUSD", Time: t0.Add(time.Duration(i) * time.Second), Bid: price, Ask: price + 0.00002})
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, got...)
	}
	if len(all) == 0 {
		t.Fatal("no bars produced")
	}
	size := b.Size()
	for i, bar := range all {
		if math.Abs(bar.High-bar.Low-size) > 1e-9 {
			t.Fatalf("bar %d range = %v, want %v", i, bar.High-bar.Low, size)
		}
		if i > 0 && math.Abs(bar.Open-all[i-1].Close) > 1e-9 {
			t.Fatalf("bar %d opens at %v, previous closed at %v", i, bar.Open, all[i-1].Close)
		}
		if bar.EndTime.Before(bar.StartTime) {
			t.Fatalf("bar %d ends before it starts", i)
		}
	}
}

func TestBuilderSessionGap(t *testing.T) {
	b := NewBuilder(config.MustLookup("USDJPY"))
	feedAll(t, b, tick(0, 150.00), tick(time.Minute, 150.08), tick(2*time.Minute, 149.96))

	got := feedAll(t, b, tick(5*time.Hour, 151.00))
	if len(got) != 1 {
		t.Fatalf("got %d bars across the gap, want 1", len(got))
	}
	bar := got[0]
	if !bar.Partial {
		t.Error("gap bar should be partial")
	}
	if bar.High != 150.08 || bar.Low != 149.96 {
		t.Errorf("gap bar H/L = %v/%v", bar.High, bar.Low)
	}
	if math.Abs(bar.Close-150.02) > 1e-9 {
		t.Errorf("gap bar close = %v, want midpoint 150.02", bar.Close)
	}
	if !bar.EndTime.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("gap bar ends %s, want last tick before gap", bar.EndTime)
	}

	// the builder restarted at 151.00, so a small move closes nothing
	if more := feedAll(t, b, tick(5*time.Hour+time.Second, 151.10)); len(more) != 0 {
		t.Errorf("unexpected bars after restart: %+v", more)
	}
	flushed, ok := b.Flush()
	if !ok || flushed.Open != 151.00 {
		t.Errorf("Flush = %+v, %v", flushed, ok)
	}
	if _, ok := b.Flush(); ok {
		t.Error("second Flush should be empty")
	}
}

func TestBuilderOutOfOrder(t *testing.T) {
	b := NewBuilder(config.MustLookup("USDJPY"))
	feedAll(t, b, tick(time.Minute, 150.00))
	if _, err := b.Feed(tick(0, 150.01)); !errors.Is(err, feed.ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
}

func TestTimeAggregator(t *testing.T) {
	ticks := []feed.Tick{
		tick(10*time.Minute, 150.00),
		tick(50*time.Minute, 150.20),
		tick(55*time.Minute, 149.90),
		tick(65*time.Minute, 150.05),
	}
	candles := Aggregate("USDJPY", ticks, time.Hour)
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	c := candles[0]
	if !c.Start.Equal(t0) || !c.End.Equal(t0.Add(time.Hour)) {
		t.Errorf("candle spans %s..%s", c.Start, c.End)
	}
	if c.Open != 150.00 || c.High != 150.20 || c.Low != 149.90 || c.Close != 149.90 || c.Ticks != 3 {
		t.Errorf("candle = %+v", c)
	}
}

func TestStoreAppend(t *testing.T) {
	store := NewStore(t.TempDir())
	b := NewBuilder(config.MustLookup("USDJPY"))
	bars := feedAll(t, b,
		tick(0, 150.00),
		tick(time.Second, 150.16),
		tick(2*time.Second, 149.70),
	)

	meta, err := store.Append("USDJPY", 15, bars[:2])
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if meta.BarCount != 2 || meta.GapCount != 1 {
		t.Errorf("metadata = %+v", meta)
	}
	if _, err := store.Append("USDJPY", 15, bars[2:]); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	loaded, meta2, err := store.Load("USDJPY", 15)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != len(bars) || meta2 == nil || meta2.BarCount != len(bars) {
		t.Fatalf("loaded %d bars (meta %+v), want %d", len(loaded), meta2, len(bars))
	}
	for i := range bars {
		if !sameBar(loaded[i], bars[i]) {
			t.Errorf("bar %d = %+v, want %+v", i, loaded[i], bars[i])
		}
	}

	stale := bars[0]
	stale.EndTime = t0.Add(-time.Hour)
	if _, err := store.Append("USDJPY", 15, []Bar{stale}); !errors.Is(err, feed.ErrOutOfOrder) {
		t.Errorf("stale append err = %v, want ErrOutOfOrder", err)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	bars, meta, err := NewStore(t.TempDir()).Load("EURUSD", 10)
	if err != nil || bars != nil || meta != nil {
		t.Fatalf("Load on empty store = %v, %v, %v", bars, meta, err)
	}
}

func sameBar(a, b Bar) bool {
	return a.Instrument == b.Instrument &&
		a.Open == b.Open && a.High == b.High && a.Low == b.Low && a.Close == b.Close &&
		a.TickCount == b.TickCount &&
		a.StartTime.Equal(b.StartTime) && a.EndTime.Equal(b.EndTime) &&
		a.IsPhantom == b.IsPhantom && a.IsGapAdjacent == b.IsGapAdjacent &&
		a.TickBoundaryPrice == b.TickBoundaryPrice && a.Partial == b.Partial
}
