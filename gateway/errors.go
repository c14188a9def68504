package gateway

import "errors"

// Sentinel errors for gateway construction.
var (
	ErrNilProxy    = errors.New("gateway: proxy is nil")
	ErrNilConfirm  = errors.New("gateway: confirmation coordinator is nil")
	ErrNilMasker   = errors.New("gateway: masker is nil")
	ErrNilVerifier = errors.New("gateway: token verifier is nil")
	ErrNilRouter   = errors.New("gateway: router is nil")
	ErrNilPipeline = errors.New("gateway: pipeline is nil")
)
