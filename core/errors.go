package core

import "errors"

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrConnectionLost      = errors.New("connection lost")
	ErrNotIdle             = errors.New("client is not idle")
	ErrNoVoiceMessage      = errors.New("no outgoing voice message")
	ErrServerError         = errors.New("server reported error")

	ErrAlreadyRecording  = errors.New("sleep recording already running")
	ErrNotRecording      = errors.New("sleep recording not running")
	ErrRecordingTooShort = errors.New("recording too short")
)
