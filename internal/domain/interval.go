package domain

// intervalRanks orders signal timeframes from shortest to longest. A higher
// rank wins when two signals for the same symbol conflict.
var intervalRanks = map[string]int{
	"1m":  1,
	"5m":  2,
	"15m": 3,
	"1h":  4,
	"4h":  5,
	"1d":  6,
}

// IntervalRank returns the arbitration rank for a timeframe. Unknown
// timeframes rank 0, below every configured one.
func IntervalRank(interval string) int {
	return intervalRanks[interval]
}

// IntervalMinutes maps a timeframe to its bar length in minutes, used by the
// market filter to align candle closes. Unknown timeframes default to 1.
func IntervalMinutes(interval string) int {
	switch interval {
	case "1m":
		return 1
	case "3m":
		return 3
	case "5m":
		return 5
	case "15m":
		return 15
	case "30m":
		return 30
	case "1h":
		return 60
	case "2h":
		return 120
	case "4h":
		return 240
	case "1d":
		return 1440
	default:
		return 1
	}
}
