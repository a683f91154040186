// Package execution holds the live bridge message shapes and a websocket
// client that forwards admitted positions as trade intents and collects
// fill acknowledgements.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rangefx-bot/pkg/position"
)

// ErrBridgeClosed is returned for sends after the connection went away
var ErrBridgeClosed = errors.New("bridge connection closed")

// Side represents buy or sell
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// FillStatus is the bridge's verdict on an intent
type FillStatus string

const (
	StatusFilled   FillStatus = "FILLED"
	StatusPartial  FillStatus = "PARTIAL"
	StatusRejected FillStatus = "REJECTED"
)

// TradeIntent asks the bridge to open a position
type TradeIntent struct {
	IntentID        string    `json:"intent_id"`
	PositionID      string    `json:"position_id"`
	Instrument      string    `json:"instrument"`
	Side            Side      `json:"side"`
	Lots            float64   `json:"lots"`
	Entry           float64   `json:"entry"`
	Stop            float64   `json:"stop"`
	PartialFraction float64   `json:"partial_fraction"`
	Module          string    `json:"module"`
	RegimeScore     float64   `json:"regime_score"`
	Timestamp       time.Time `json:"timestamp"`
}

// FillAck is the bridge's answer to an intent
type FillAck struct {
	IntentID   string     `json:"intent_id"`
	Status     FillStatus `json:"status"`
	FillPrice  float64    `json:"fill_price"`
	FilledLots float64    `json:"filled_lots"`
	Reason     string     `json:"reason,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// intentNamespace scopes intent IDs so they are stable per position
var intentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("rangefx-bot/intents"))

// IntentFromPosition builds the intent for a newly admitted position
func IntentFromPosition(p *position.Position) TradeIntent {
	return TradeIntent{
		IntentID:        uuid.NewSHA1(intentNamespace, []byte(p.ID)).String(),
		PositionID:      p.ID,
		Instrument:      p.Instrument.Name,
		Side:            Side(p.Direction),
		Lots:            p.Lots,
		Entry:           p.EntryPrice,
		Stop:            p.StopPrice,
		PartialFraction: p.PartialFraction,
		Module:          p.Module,
		RegimeScore:     p.EntryScore,
		Timestamp:       p.EntryTime,
	}
}

// BridgeClient is a websocket connection to the live bridge. Writes are
// serialised by a mutex; a single reader goroutine routes acks to waiting
// senders or, when nobody waits, to Acks.
type BridgeClient struct {
	url          string
	conn         *websocket.Conn
	logger       *zap.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan FillAck
	acks    chan FillAck
	done    chan struct{}
	readErr error
	closed  bool
}

// DialBridge connects to the bridge and starts the reader
func DialBridge(ctx context.Context, url string, logger *zap.Logger) (*BridgeClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bridge %s: %v", url, err)
	}
	bc := &BridgeClient{
		url:          url,
		conn:         conn,
		logger:       logger,
		writeTimeout: 10 * time.Second,
		pending:      make(map[string]chan FillAck),
		acks:         make(chan FillAck, 256),
		done:         make(chan struct{}),
	}
	go bc.readLoop()
	logger.Info("[BRIDGE] connected", zap.String("url", url))
	return bc, nil
}

// Acks delivers acknowledgements nobody was waiting for
func (bc *BridgeClient) Acks() <-chan FillAck {
	return bc.acks
}

// Submit writes an intent without waiting for its ack
func (bc *BridgeClient) Submit(intent TradeIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %v", err)
	}
	bc.writeMu.Lock()
	defer bc.writeMu.Unlock()
	select {
	case <-bc.done:
		return ErrBridgeClosed
	default:
	}
	bc.conn.SetWriteDeadline(time.Now().Add(bc.writeTimeout))
	if err := bc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send intent %s: %v", intent.IntentID, err)
	}
	return nil
}

// Send writes an intent and waits for its ack
func (bc *BridgeClient) Send(ctx context.Context, intent TradeIntent) (FillAck, error) {
	if intent.IntentID == "" {
		intent.IntentID = uuid.NewString()
	}
	ch := make(chan FillAck, 1)
	bc.mu.Lock()
	if bc.closed {
		bc.mu.Unlock()
		return FillAck{}, ErrBridgeClosed
	}
	bc.pending[intent.IntentID] = ch
	bc.mu.Unlock()
	defer func() {
		bc.mu.Lock()
		delete(bc.pending, intent.IntentID)
		bc.mu.Unlock()
	}()

	if err := bc.Submit(intent); err != nil {
		return FillAck{}, err
	}
	select {
	case ack := <-ch:
		return ack, nil
	case <-bc.done:
		return FillAck{}, ErrBridgeClosed
	case <-ctx.Done():
		return FillAck{}, ctx.Err()
	}
}

func (bc *BridgeClient) readLoop() {
	defer close(bc.done)
	for {
		var ack FillAck
		if err := bc.conn.ReadJSON(&ack); err != nil {
			bc.mu.Lock()
			bc.readErr = err
			bc.closed = true
			bc.mu.Unlock()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				bc.logger.Warn("[BRIDGE] read failed", zap.Error(err))
			}
			return
		}
		bc.mu.Lock()
		ch, ok := bc.pending[ack.IntentID]
		bc.mu.Unlock()
		if ok {
			select {
			case ch <- ack:
			default:
			}
			continue
		}
		select {
		case bc.acks <- ack:
		default:
			bc.logger.Warn("[BRIDGE] dropping unsolicited ack", zap.String("intent_id", ack.IntentID))
		}
	}
}

// PositionOpened forwards a newly admitted position as an intent
func (bc *BridgeClient) PositionOpened(p *position.Position) error {
	intent := IntentFromPosition(p)
	if err := bc.Submit(intent); err != nil {
		return err
	}
	bc.logger.Info("[BRIDGE] intent sent",
		zap.String("intent_id", intent.IntentID),
		zap.String("position_id", p.ID),
		zap.String("instrument", intent.Instrument),
		zap.Float64("lots", intent.Lots))
	return nil
}

// PositionClosed is a no-op; the bridge manages exits from the intent
func (bc *BridgeClient) PositionClosed(*position.Position) error {
	return nil
}

// Close sends a close frame and waits for the reader to stop
func (bc *BridgeClient) Close() error {
	bc.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := bc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	bc.writeMu.Unlock()

	select {
	case <-bc.done:
	case <-time.After(2 * time.Second):
	}
	err := bc.conn.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return werr
	}
	return err
}

// Err returns the error that stopped the reader, if any
func (bc *BridgeClient) Err() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.readErr
}
