package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
	"github.com/alanyoungcy/bitunixbot/internal/signal"
)

// maxAlertBody caps the webhook request body size.
const maxAlertBody = 64 * 1024

// submitTimeout bounds the background admission run. SELL validation can
// wait up to a full bar for the candle to close, so this must exceed the
// longest supported timeframe.
const submitTimeout = 25 * time.Hour

// Submitter runs the admission pipeline for a parsed signal.
type Submitter interface {
	Submit(ctx context.Context, sig domain.SignalEvent) domain.SubmitResult
}

// WebhookHandler receives TradingView alert webhooks.
type WebhookHandler struct {
	svc    Submitter
	logger *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(svc Submitter, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		svc:    svc,
		logger: logger.With("component", "webhook"),
	}
}

// alertPayload is the JSON body TradingView posts. Plain-text bodies are
// also accepted, carrying the alert message directly.
type alertPayload struct {
	Message   string `json:"message"`
	AlertName string `json:"alert_name"`
	Symbol    string `json:"symbol"`
}

// Receive handles POST /webhook/{symbol}. The path segment carries
// SYMBOL[_QTY[_INTERVAL]]; a symbol in the JSON body overrides it. Parsing
// happens inline so the response reports malformed alerts, while admission
// runs in the background because validation can wait for a candle close.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxAlertBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var payload alertPayload
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		message = payload.Message
	}

	seg := r.PathValue("symbol")
	if payload.Symbol != "" {
		seg = payload.Symbol
	}
	symbol, qty, interval, err := signal.ParseSymbolPath(seg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sig, err := signal.ParseAlert(message)
	if err != nil {
		h.logger.Warn("unparseable alert",
			"symbol", symbol, "alert_name", payload.AlertName, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sig.Symbol = symbol
	sig.RequestedQty = qty
	sig.Interval = interval

	h.logger.Info("alert received",
		"symbol", symbol, "direction", sig.Direction,
		"interval", interval, "alert_name", payload.AlertName)

	// Detach from the request context: admission outlives the HTTP
	// exchange.
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), submitTimeout)
		defer cancel()

		res := h.svc.Submit(ctx, sig)
		if !res.Accepted {
			h.logger.Info("signal not executed",
				"symbol", symbol, "direction", sig.Direction, "reason", res.Reason)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "parsed",
		"symbol":    symbol,
		"direction": string(sig.Direction),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
