package domain

import "errors"

// Sentinel errors checked with errors.Is/errors.As at component boundaries.
var (
	ErrConfig             = errors.New("configuration error")
	ErrCapture            = errors.New("capture error")
	ErrNonEthernetChannel = errors.New("non-ethernet channel")
	ErrPoolExhausted      = errors.New("connection pool exhausted")
	ErrTransientStore     = errors.New("transient store error")
)
