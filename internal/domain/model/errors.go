package model

import "errors"

var (
	ErrRecipientNotFound   = errors.New("recipient not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrReceiptNotFound     = errors.New("receipt not found")
	ErrEmptyGroups         = errors.New("at least one primary and one secondary group are required")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrSendTimeout         = errors.New("send timed out")
	ErrWriteUnconfirmed    = errors.New("frame write not confirmed")
	ErrProviderUnavailable = errors.New("push provider unavailable")
	ErrInvalidRequest      = errors.New("invalid request")
)
