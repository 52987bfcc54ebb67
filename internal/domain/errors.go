package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrMarketNotActive     = errors.New("market not active")
	ErrMarketNotReady      = errors.New("market not ready")
	ErrDuplicateSettlement = errors.New("market already settled")
	ErrTerminalState       = errors.New("position in terminal state")
	ErrExposureExceeded    = errors.New("max exposure exceeded")
	ErrOrderRejected       = errors.New("order rejected")
	ErrWSDisconnect        = errors.New("websocket disconnected")
)
