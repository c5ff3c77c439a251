package domain

import "errors"

var (
	// ErrMalformedResponse marks a provider reply that could not be decoded or carried no text.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrInvalidCredential marks a missing or rejected provider API key.
	ErrInvalidCredential = errors.New("invalid provider credential")
)
