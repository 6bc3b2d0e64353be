package service

import "errors"

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrMissingPaymentRef   = errors.New("order has no payment reference")
	ErrPaymentNotSucceeded = errors.New("order payment is not succeeded")
	ErrInvalidMode         = errors.New("invalid duplicate pass mode")
	ErrInvalidTransition   = errors.New("status transition not allowed")
	ErrEmptyReference      = errors.New("empty payment reference")
)
