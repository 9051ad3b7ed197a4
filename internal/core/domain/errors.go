package domain

import "errors"

var (
	ErrStreamNotFound     = errors.New("stream not found")
	ErrStreamEnded        = errors.New("stream already ended")
	ErrSessionExists      = errors.New("peer session already exists")
	ErrSessionNotFound    = errors.New("peer session not found")
	ErrLayerNotFound      = errors.New("simulcast layer not found")
	ErrNoHealthyServers   = errors.New("no healthy servers")
	ErrRecordingActive    = errors.New("recording already active")
	ErrRecordingNotFound  = errors.New("recording not found")
	ErrRecordingNotReady  = errors.New("recording did not reach processing state")
	ErrVerificationAbsent = errors.New("verification record not found")
	ErrNotJoined          = errors.New("client has not joined a stream")
)
