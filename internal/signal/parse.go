// Package signal parses incoming trade alerts and runs the admission
// pipeline that turns an accepted alert into exchange orders and a pending
// position record.
package signal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

var (
	numberRe = regexp.MustCompile(`[\d.]+`)
	tpRe     = regexp.MustCompile(`TP\d+:\s*([\d.]+)`)
	zoneRe   = regexp.MustCompile(`Accumulation Zone:\s*([\d.]+)\s*-\s*([\d.]+)`)
)

// ParseAlert parses the alert text body into a SignalEvent. The expected
// shape is a headline naming the setup (containing "short" for a sell),
// followed by "Entry Price", "Stop Loss", "TPn:" lines, and an
// "Accumulation Zone: top - bottom" line.
func ParseAlert(message string) (domain.SignalEvent, error) {
	lines := strings.Split(message, "\n")
	if len(lines) == 0 || strings.TrimSpace(message) == "" {
		return domain.SignalEvent{}, fmt.Errorf("%w: empty alert", domain.ErrInvalidSignal)
	}

	direction := domain.DirectionBuy
	if strings.Contains(strings.ToLower(lines[0]), "short") {
		direction = domain.DirectionSell
	}

	entry, ok := extractValue(lines, "Entry Price")
	if !ok {
		return domain.SignalEvent{}, fmt.Errorf("%w: missing entry price", domain.ErrInvalidSignal)
	}
	stop, ok := extractValue(lines, "Stop Loss")
	if !ok {
		return domain.SignalEvent{}, fmt.Errorf("%w: missing stop loss", domain.ErrInvalidSignal)
	}

	var tps []float64
	for _, m := range tpRe.FindAllStringSubmatch(message, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return domain.SignalEvent{}, fmt.Errorf("%w: bad tp %q", domain.ErrInvalidSignal, m[1])
		}
		tps = append(tps, v)
	}
	if len(tps) == 0 {
		return domain.SignalEvent{}, fmt.Errorf("%w: no take profits", domain.ErrInvalidSignal)
	}

	zm := zoneRe.FindStringSubmatch(message)
	if zm == nil {
		return domain.SignalEvent{}, fmt.Errorf("%w: missing accumulation zone", domain.ErrInvalidSignal)
	}
	top, err := strconv.ParseFloat(zm[1], 64)
	if err != nil {
		return domain.SignalEvent{}, fmt.Errorf("%w: bad zone top %q", domain.ErrInvalidSignal, zm[1])
	}
	bottom, err := strconv.ParseFloat(zm[2], 64)
	if err != nil {
		return domain.SignalEvent{}, fmt.Errorf("%w: bad zone bottom %q", domain.ErrInvalidSignal, zm[2])
	}

	return domain.SignalEvent{
		Direction:        direction,
		EntryPrice:       entry,
		StopLoss:         stop,
		TakeProfits:      tps,
		AccumulationZone: [2]float64{top, bottom},
		ReceivedAt:       time.Now().UTC(),
	}, nil
}

// ParseSymbolPath splits the webhook path segment SYMBOL[_QTY[_INTERVAL]],
// e.g. "BTCUSDT_0.5_15m". Quantity and interval fall back to zero and "1m"
// when absent; a zero quantity means the configured default applies.
func ParseSymbolPath(seg string) (symbol string, qty float64, interval string, err error) {
	seg = strings.ToUpper(strings.TrimSpace(seg))
	if seg == "" {
		return "", 0, "", fmt.Errorf("%w: empty symbol", domain.ErrInvalidSignal)
	}

	interval = "1m"
	parts := strings.Split(seg, "_")
	symbol = parts[0]
	if len(parts) > 1 && parts[1] != "" {
		qty, err = strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return "", 0, "", fmt.Errorf("%w: bad quantity %q", domain.ErrInvalidSignal, parts[1])
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		interval = strings.ToLower(parts[2])
	}
	return symbol, qty, interval, nil
}

func extractValue(lines []string, key string) (float64, bool) {
	for _, line := range lines {
		if !strings.Contains(line, key) {
			continue
		}
		m := numberRe.FindString(strings.SplitN(line, key, 2)[1])
		if m == "" {
			return 0, false
		}
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}
