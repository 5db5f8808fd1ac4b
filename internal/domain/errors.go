package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrLockHeld       = errors.New("lock already held")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidSignal  = errors.New("invalid signal payload")
	ErrPriceInvalid   = errors.New("protective price invalid against mark price")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrDailyLossLimit = errors.New("daily loss limit reached")
)
