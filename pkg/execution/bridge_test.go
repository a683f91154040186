package execution

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/config"
	"github.com/rangefx-bot/pkg/gating"
	"github.com/rangefx-bot/pkg/position"
	"github.com/rangefx-bot/pkg/regime"
	"github.com/rangefx-bot/pkg/strategy"
)

var t0 = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

// fakeBridge fills every intent at its entry price, except SILENT intents
// which get no answer. When hangUp is set it drops the connection after the
// first intent.
func fakeBridge(t *testing.T, hangUp bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var intent TradeIntent
			if err := conn.ReadJSON(&intent); err != nil {
				return
			}
			if hangUp {
				return
			}
			if intent.Instrument == "SILENT" {
				continue
			}
			ack := FillAck{
				IntentID:   intent.IntentID,
				Status:     StatusFilled,
				FillPrice:  intent.Entry,
				FilledLots: intent.Lots,
				Timestamp:  intent.Timestamp,
			}
			if err := conn.WriteJSON(ack); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server) *BridgeClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bc, err := DialBridge(ctx, wsURL(srv), zap.NewNop())
	if err != nil {
		t.Fatalf("DialBridge: %v", err)
	}
	return bc
}

func openPosition() *position.Position {
	sig := strategy.Signal{
		Instrument:  "EURUSD",
		Direction:   strategy.Sell,
		Entry:       1.1000,
		Stop:        1.1020,
		Module:      strategy.RangeRiderName,
		RegimeScore: 35,
		Regime:      regime.Range,
		BarTime:     t0,
		Session:     gating.London,
	}
	return position.New("pos-1", config.MustLookup("EURUSD"), sig, 1.0999, 0.05, 0.008, decimal.NewFromFloat(0.35))
}

func TestIntentFromPosition(t *testing.T) {
	p := openPosition()
	a := IntentFromPosition(p)
	b := IntentFromPosition(p)
	if a.IntentID == "" || a.IntentID != b.IntentID {
		t.Fatalf("intent IDs %q, %q should be equal and non-empty", a.IntentID, b.IntentID)
	}
	if a.Side != SideSell || a.Instrument != "EURUSD" || a.Entry != 1.0999 || a.Stop != 1.1020 {
		t.Errorf("intent = %+v", a)
	}
	if a.PartialFraction != p.PartialFraction || a.RegimeScore != 35 || !a.Timestamp.Equal(t0) {
		t.Errorf("intent = %+v", a)
	}
}

func TestSendReceivesAck(t *testing.T) {
	bc := dial(t, fakeBridge(t, false))
	defer bc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	intent := IntentFromPosition(openPosition())
	ack, err := bc.Send(ctx, intent)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ack.IntentID != intent.IntentID || ack.Status != StatusFilled || ack.FilledLots != 0.05 {
		t.Errorf("ack = %+v", ack)
	}
}

func TestSendTimesOut(t *testing.T) {
	bc := dial(t, fakeBridge(t, false))
	defer bc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := bc.Send(ctx, TradeIntent{Instrument: "SILENT"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestPositionOpenedDeliversUnsolicitedAck(t *testing.T) {
	bc := dial(t, fakeBridge(t, false))
	defer bc.Close()

	p := openPosition()
	if err := bc.PositionOpened(p); err != nil {
		t.Fatalf("PositionOpened: %v", err)
	}
	select {
	case ack := <-bc.Acks():
		if ack.IntentID != IntentFromPosition(p).IntentID {
			t.Errorf("ack for %q", ack.IntentID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no ack received")
	}
	if err := bc.PositionClosed(p); err != nil {
		t.Errorf("PositionClosed: %v", err)
	}
}

func TestSendAfterHangUp(t *testing.T) {
	bc := dial(t, fakeBridge(t, true))
	defer bc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := bc.Send(ctx, IntentFromPosition(openPosition())); !errors.Is(err, ErrBridgeClosed) {
		t.Fatalf("err = %v, want ErrBridgeClosed", err)
	}
	if err := bc.Submit(TradeIntent{IntentID: "late"}); !errors.Is(err, ErrBridgeClosed) {
		t.Errorf("Submit after hang-up err = %v", err)
	}
}
