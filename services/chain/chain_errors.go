package chain

import "errors"

var (
	ErrChainUnavailable         = errors.New("blockchain node unavailable")
	ErrChainMismatch            = errors.New("node chain ID does not match configuration")
	ErrTxNotFound               = errors.New("transaction not found")
	ErrSubscriptionsUnavailable = errors.New("websocket endpoint not configured")
)
