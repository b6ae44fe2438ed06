package orchestrator

import "errors"

var (
	ErrInvalidRequest              = errors.New("invalid action request")
	ErrConnection                  = errors.New("miner connection failed")
	ErrIdentityUnavailable         = errors.New("local identity unavailable")
	ErrCredentialGeneration        = errors.New("credential generation failed")
	ErrUnexpectedHandshakeResponse = errors.New("unexpected handshake response")
	ErrActionExecution             = errors.New("action execution failed")
)
