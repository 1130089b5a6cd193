package session

import "errors"

var (
	// ErrInvalidArgument indicates a missing or malformed session id,
	// recipient, or message id.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSessionNotFound indicates no live session exists for the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotReady indicates the session is registered but not in the
	// ready state.
	ErrSessionNotReady = errors.New("session not ready")
	// ErrInvalidRecipient indicates recipient normalization failed.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrMessageNotFound indicates the revoke target does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrRevokeUnsupported indicates the engine lacks message lookup.
	ErrRevokeUnsupported = errors.New("revoke not supported")
)
