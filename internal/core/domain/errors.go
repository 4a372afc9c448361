package domain

import "errors"

var (
	ErrInvalidStreamType  = errors.New("invalid stream type")
	ErrInvalidAudioConfig = errors.New("audio source set but audio disabled")
	ErrSessionNotFound    = errors.New("no active session")
	ErrSessionSuperseded  = errors.New("session superseded by a newer request")
	ErrSessionEnded       = errors.New("session already ended")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
)
