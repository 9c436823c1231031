package entities

import "errors"

var (
	ErrUnknownChannel    = errors.New("unknown channel")
	ErrDownloadFailed    = errors.New("download failed")
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrStore             = errors.New("store error")
	ErrSubscriptionLimit = errors.New("subscription limit reached")
	ErrNotFound          = errors.New("not found")
	ErrInvalidLink       = errors.New("invalid channel link")
)
