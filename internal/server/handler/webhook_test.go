package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

type fakeSubmitter struct {
	submitted chan domain.SignalEvent
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{submitted: make(chan domain.SignalEvent, 1)}
}

func (f *fakeSubmitter) Submit(_ context.Context, sig domain.SignalEvent) domain.SubmitResult {
	f.submitted <- sig
	return domain.SubmitResult{Accepted: true}
}

const alertBody = `Golden Long Setup
Entry Price: 100.5
Stop Loss: 95
TP1: 110
TP2: 120
Accumulation Zone: 100.5 - 97`

func newWebhookRequest(seg, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+seg, strings.NewReader(body))
	req.SetPathValue("symbol", seg)
	return req
}

func TestReceiveAcceptsPlainTextAlert(t *testing.T) {
	sub := newFakeSubmitter()
	h := NewWebhookHandler(sub, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.Receive(rec, newWebhookRequest("BTCUSDT_0.5_15m", alertBody))

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "parsed", resp["status"])
	assert.Equal(t, "BTCUSDT", resp["symbol"])
	assert.Equal(t, "BUY", resp["direction"])

	select {
	case sig := <-sub.submitted:
		assert.Equal(t, "BTCUSDT", sig.Symbol)
		assert.Equal(t, 0.5, sig.RequestedQty)
		assert.Equal(t, "15m", sig.Interval)
		assert.Equal(t, 100.5, sig.EntryPrice)
	case <-time.After(2 * time.Second):
		t.Fatal("signal never reached the submitter")
	}
}

func TestReceiveAcceptsJSONPayload(t *testing.T) {
	sub := newFakeSubmitter()
	h := NewWebhookHandler(sub, slog.New(slog.DiscardHandler))

	payload, err := json.Marshal(map[string]string{
		"message": alertBody,
		"symbol":  "ETHUSDT_1_1h",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Receive(rec, newWebhookRequest("BTCUSDT", string(payload)))

	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case sig := <-sub.submitted:
		// The JSON body's symbol overrides the path segment.
		assert.Equal(t, "ETHUSDT", sig.Symbol)
		assert.Equal(t, 1.0, sig.RequestedQty)
		assert.Equal(t, "1h", sig.Interval)
	case <-time.After(2 * time.Second):
		t.Fatal("signal never reached the submitter")
	}
}

func TestReceiveRejectsUnparseableAlert(t *testing.T) {
	sub := newFakeSubmitter()
	h := NewWebhookHandler(sub, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.Receive(rec, newWebhookRequest("BTCUSDT", "not an alert"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sub.submitted)
}

func TestReceiveRejectsEmptySymbol(t *testing.T) {
	sub := newFakeSubmitter()
	h := NewWebhookHandler(sub, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.Receive(rec, newWebhookRequest("", alertBody))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
