package errors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories the bot pool can produce.
type Kind string

const (
	KindAccessTokenInvalid  Kind = "access_token_invalid"
	KindAccessTokenExpired  Kind = "access_token_expired"
	KindBotOffline          Kind = "bot_offline"
	KindBotBusy             Kind = "bot_busy"
	KindUnsupportedModel    Kind = "unsupported_model"
	KindInvalidResponse     Kind = "invalid_response"
	KindInternalServerError Kind = "internal_server_error"
)

// BotError is a transport- or protocol-level failure of an upstream session.
type BotError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *BotError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *BotError) Unwrap() error {
	return e.Err
}

// NewBotError creates a BotError of the given kind.
func NewBotError(kind Kind, detail string) *BotError {
	return &BotError{Kind: kind, Detail: detail}
}

// WrapBotError creates a BotError of the given kind wrapping an underlying error.
func WrapBotError(kind Kind, err error) *BotError {
	return &BotError{Kind: kind, Err: err, Detail: errDetail(err)}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsKind reports whether err is a BotError of the given kind.
func IsKind(err error, kind Kind) bool {
	var be *BotError
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// OpenAIError is a non-2xx response from the upstream conversation API.
type OpenAIError struct {
	Code    int
	Message string
}

func (e *OpenAIError) Error() string {
	return fmt.Sprintf("code=%d, message=%q", e.Code, e.Message)
}

// NewOpenAIError creates an OpenAIError with the upstream status code and body.
func NewOpenAIError(code int, message string) *OpenAIError {
	return &OpenAIError{Code: code, Message: message}
}

// AsOpenAI extracts an OpenAIError from err if present.
func AsOpenAI(err error) (*OpenAIError, bool) {
	var oe *OpenAIError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
