package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

const longAlert = `Golden Long Setup Detected
Entry Price: 64250.5
Stop Loss: 63100
TP1: 64900
TP2: 65550
TP3: 66200
TP4: 66850
Accumulation Zone: 64250.5 - 63800`

const shortAlert = `Overbought short reversal
Entry Price: 3412.25
Stop Loss: 3490
TP1: 3350
TP2: 3300
Accumulation Zone: 3412.25 - 3440`

func TestParseAlertLong(t *testing.T) {
	sig, err := ParseAlert(longAlert)
	require.NoError(t, err)

	assert.Equal(t, domain.DirectionBuy, sig.Direction)
	assert.Equal(t, 64250.5, sig.EntryPrice)
	assert.Equal(t, 63100.0, sig.StopLoss)
	assert.Equal(t, []float64{64900, 65550, 66200, 66850}, sig.TakeProfits)
	assert.Equal(t, [2]float64{64250.5, 63800}, sig.AccumulationZone)
	assert.False(t, sig.ReceivedAt.IsZero())
}

func TestParseAlertShort(t *testing.T) {
	sig, err := ParseAlert(shortAlert)
	require.NoError(t, err)

	assert.Equal(t, domain.DirectionSell, sig.Direction)
	assert.Equal(t, 3412.25, sig.EntryPrice)
	assert.Equal(t, []float64{3350, 3300}, sig.TakeProfits)
}

func TestParseAlertZoneEntries(t *testing.T) {
	sig, err := ParseAlert(longAlert)
	require.NoError(t, err)

	entries := sig.ZoneEntries()
	assert.Equal(t, 64250.5, entries[0])
	assert.Equal(t, 64025.25, entries[1])
	assert.Equal(t, 63800.0, entries[2])
}

func TestParseAlertErrors(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{"empty", "   "},
		{"missing entry", "Long setup\nStop Loss: 100\nTP1: 110\nAccumulation Zone: 100 - 95"},
		{"missing stop", "Long setup\nEntry Price: 100\nTP1: 110\nAccumulation Zone: 100 - 95"},
		{"no take profits", "Long setup\nEntry Price: 100\nStop Loss: 95\nAccumulation Zone: 100 - 95"},
		{"missing zone", "Long setup\nEntry Price: 100\nStop Loss: 95\nTP1: 110"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAlert(tt.message)
			assert.ErrorIs(t, err, domain.ErrInvalidSignal)
		})
	}
}

func TestParseSymbolPath(t *testing.T) {
	tests := []struct {
		seg      string
		symbol   string
		qty      float64
		interval string
	}{
		{"BTCUSDT_0.5_15m", "BTCUSDT", 0.5, "15m"},
		{"ethusdt", "ETHUSDT", 0, "1m"},
		{"SOLUSDT_2", "SOLUSDT", 2, "1m"},
		{"btcusdt__4h", "BTCUSDT", 0, "4h"},
	}
	for _, tt := range tests {
		t.Run(tt.seg, func(t *testing.T) {
			symbol, qty, interval, err := ParseSymbolPath(tt.seg)
			require.NoError(t, err)
			assert.Equal(t, tt.symbol, symbol)
			assert.Equal(t, tt.qty, qty)
			assert.Equal(t, tt.interval, interval)
		})
	}
}

func TestParseSymbolPathErrors(t *testing.T) {
	_, _, _, err := ParseSymbolPath("")
	assert.ErrorIs(t, err, domain.ErrInvalidSignal)

	_, _, _, err = ParseSymbolPath("BTCUSDT_abc_15m")
	assert.ErrorIs(t, err, domain.ErrInvalidSignal)
}
