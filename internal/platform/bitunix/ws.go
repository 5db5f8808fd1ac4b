package bitunix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bitunixbot/internal/crypto"
	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

const (
	wsWriteWait      = 10 * time.Second
	wsReadWait       = 60 * time.Second
	wsPingPeriod     = 20 * time.Second
	wsReconnectDelay = 5 * time.Second
	wsLoginWait      = 10 * time.Second
)

// streamChannels are the private channels the engine consumes.
var streamChannels = []string{"order", "position", "tpsl"}

// EventHandler is called for every decoded private-stream event.
type EventHandler func(domain.StreamEvent)

// Stream maintains the authenticated private websocket connection. It logs
// in, subscribes to the order, position, and tpsl channels, keeps the
// connection alive with pings, and reconnects with a fixed delay until its
// context is cancelled.
type Stream struct {
	wsURL  string
	auth   *crypto.Auth
	logger *slog.Logger

	handlerMu sync.RWMutex
	handlers  []EventHandler
}

// NewStream creates a private stream client.
//
// wsURL is the private stream endpoint, e.g. "wss://fapi.bitunix.com/private/".
func NewStream(wsURL string, auth *crypto.Auth, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:  wsURL,
		auth:   auth,
		logger: logger.With("component", "bitunix_stream"),
	}
}

// OnEvent registers a handler invoked for every decoded event. Register all
// handlers before calling Run.
func (s *Stream) OnEvent(h EventHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Run connects and consumes the stream until ctx is cancelled. Every
// disconnect is retried after a fixed delay; only context cancellation
// returns.
func (s *Stream) Run(ctx context.Context) error {
	for {
		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("stream disconnected, reconnecting",
				"error", err,
				"retry_in", wsReconnectDelay.String())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wsReconnectDelay):
		}
	}
}

// runOnce performs a single connect/login/subscribe/read cycle.
func (s *Stream) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", domain.ErrWSDisconnect, err)
	}
	defer conn.Close()

	if err := s.login(conn); err != nil {
		return err
	}
	if err := s.subscribe(conn); err != nil {
		return err
	}

	s.logger.Info("private stream connected", "channels", streamChannels)

	// Close the connection when ctx ends so the read loop unblocks.
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx, conn)

	conn.SetReadDeadline(time.Now().Add(wsReadWait))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read: %v", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		s.dispatch(msg)
	}
}

// login authenticates the connection with the double SHA-256 signature over
// nonce, timestamp in whole seconds, and API key.
func (s *Stream) login(conn *websocket.Conn) error {
	nonce := crypto.Nonce()
	ts := time.Now().Unix()

	cmd := wsCommand{
		Op: "login",
		Args: []any{wsLoginArg{
			APIKey:    s.auth.Key,
			Timestamp: ts,
			Nonce:     nonce,
			Sign:      s.auth.SignStream(nonce, ts),
		}},
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("%w: login: %v", domain.ErrWSDisconnect, err)
	}

	// The server answers login before any channel data flows.
	conn.SetReadDeadline(time.Now().Add(wsLoginWait))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: login response: %v", domain.ErrWSDisconnect, err)
	}

	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err == nil && env.Op != "" && env.Op != "login" && env.Op != "connect" {
		return fmt.Errorf("%w: unexpected login response op %q", domain.ErrWSDisconnect, env.Op)
	}
	return nil
}

// subscribe registers the private channels.
func (s *Stream) subscribe(conn *websocket.Conn) error {
	args := make([]any, 0, len(streamChannels))
	for _, ch := range streamChannels {
		args = append(args, wsSubscribeArg{Ch: ch})
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(wsCommand{Op: "subscribe", Args: args}); err != nil {
		return fmt.Errorf("%w: subscribe: %v", domain.ErrWSDisconnect, err)
	}
	return nil
}

// pingLoop keeps the connection alive. The server expects an application
// level ping message rather than a websocket control frame.
func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsCommand{Op: "ping", Ping: time.Now().Unix()}); err != nil {
				s.logger.Warn("ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

// dispatch decodes one raw message and fans it out to the handlers. Decode
// failures are logged and swallowed so one malformed message never tears
// down the stream.
func (s *Stream) dispatch(msg []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.logger.Warn("undecodable stream message", "error", err)
		return
	}
	if env.Op == "ping" || env.Op == "pong" || env.Ch == "pong" {
		return
	}

	var event *domain.StreamEvent
	switch env.Ch {
	case "position":
		event = decodePositionEvent(env)
	case "tpsl":
		event = decodeTpSlEvent(env)
	default:
		return
	}
	if event == nil {
		return
	}
	event.Raw = msg

	s.handlerMu.RLock()
	handlers := s.handlers
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(*event)
	}
}

// decodePositionEvent maps a position-channel payload onto the typed event
// variants.
func decodePositionEvent(env wsEnvelope) *domain.StreamEvent {
	var d wsPositionData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return nil
	}

	dir := domain.DirectionBuy
	if d.Side == "SHORT" || d.Side == "SELL" {
		dir = domain.DirectionSell
	}
	ctime := parseEventTime(d.CTime)

	ev := &domain.StreamEvent{Channel: env.Ch}
	switch d.Event {
	case "OPEN":
		ev.PositionOpen = &domain.PositionOpen{
			Symbol:     d.Symbol,
			Direction:  dir,
			PositionID: d.PositionID,
			Qty:        d.Qty.Float(),
			Margin:     d.Margin.Float(),
			Leverage:   d.Leverage.Float(),
			Fee:        d.Fee.Float(),
			CTime:      ctime,
		}
	case "UPDATE":
		ev.PositionUpdate = &domain.PositionUpdate{
			Symbol:     d.Symbol,
			Direction:  dir,
			PositionID: d.PositionID,
			Qty:        d.Qty.Float(),
			Margin:     d.Margin.Float(),
			Leverage:   d.Leverage.Float(),
			Fee:        d.Fee.Float(),
			CTime:      ctime,
		}
	case "CLOSE":
		ev.PositionClose = &domain.PositionClose{
			Symbol:      d.Symbol,
			Direction:   dir,
			PositionID:  d.PositionID,
			Qty:         d.Qty.Float(),
			RealizedPnL: d.RealizedPNL.Float(),
			CTime:       ctime,
		}
	default:
		return nil
	}
	return ev
}

// decodeTpSlEvent maps a tpsl-channel payload. Only filled triggers matter;
// placements and cancellations on this channel are ignored.
func decodeTpSlEvent(env wsEnvelope) *domain.StreamEvent {
	var d wsTpSlData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return nil
	}
	if d.Event != "CLOSE" || d.Status != "FILLED" {
		return nil
	}

	dir := domain.DirectionBuy
	if d.Side == "SHORT" || d.Side == "SELL" {
		dir = domain.DirectionSell
	}
	filled := d.TpQty.Float()
	if filled == 0 {
		filled = d.SlQty.Float()
	}

	return &domain.StreamEvent{
		Channel: env.Ch,
		TpSlFill: &domain.TpSlFill{
			Symbol:     d.Symbol,
			Direction:  dir,
			PositionID: d.PositionID,
			FilledQty:  filled,
			CTime:      time.Now().UTC(),
		},
	}
}

// parseEventTime handles the ISO timestamps the stream emits; a zero time is
// returned for anything unparseable.
func parseEventTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
