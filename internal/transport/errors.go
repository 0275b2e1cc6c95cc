package transport

import (
	"fmt"
	"strings"
)

// Error codes
const (
	ErrNeverStarted      = "NEVER_STARTED"
	ErrBlocked           = "BLOCKED"
	ErrChatNotFound      = "CHAT_NOT_FOUND"
	ErrMessageTooLong    = "MESSAGE_TOO_LONG"
	ErrInsufficientRight = "INSUFFICIENT_RIGHTS"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrProvider          = "PROVIDER_ERROR"
	ErrInvalidInput      = "INVALID_INPUT"
)

// SendError is a structured error for failed provider operations.
type SendError struct {
	Code    string
	Message string
	Retry   bool
}

// Error implements the error interface.
func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// providerErrorTable maps known Telegram Bot API error fragments to a code
// and an operator-facing message. Unknown errors pass through verbatim.
var providerErrorTable = []struct {
	fragment string
	code     string
	message  string
	retry    bool
}{
	{"bot can't initiate conversation", ErrNeverStarted, "The user has never started a conversation with the bot", false},
	{"bot was blocked by the user", ErrBlocked, "The user has blocked the bot", false},
	{"user is deactivated", ErrBlocked, "The user account is deactivated", false},
	{"chat not found", ErrChatNotFound, "The conversation could not be found", false},
	{"message is too long", ErrMessageTooLong, "The message exceeds the provider's length limit", false},
	{"not enough rights", ErrInsufficientRight, "The bot lacks the rights to perform this action", false},
	{"unauthorized", ErrUnauthorized, "The bot credentials were rejected", false},
}

// TranslateProviderError converts a raw provider error string into a
// SendError with an operator-facing message. Matching is case-insensitive
// substring matching against the known-error table.
func TranslateProviderError(raw string) *SendError {
	lowered := strings.ToLower(raw)
	for _, entry := range providerErrorTable {
		if strings.Contains(lowered, entry.fragment) {
			return &SendError{Code: entry.code, Message: entry.message, Retry: entry.retry}
		}
	}
	return &SendError{Code: ErrProvider, Message: raw, Retry: true}
}

// NewInvalidInputError creates an error for an invalid call rejected before
// reaching the remote function.
func NewInvalidInputError(message string) *SendError {
	return &SendError{Code: ErrInvalidInput, Message: message, Retry: false}
}
