package ringcentral

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies provider failures for the HTTP layer and the user message.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindAuth
	KindProvider
	KindSMSCapability
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindProvider:
		return "provider"
	case KindSMSCapability:
		return "sms_capability"
	}
	return "unknown"
}

// Error is returned for every classified provider failure.
type Error struct {
	Kind    Kind
	Status  int    // HTTP status from RingCentral, 0 when no request was made
	Code    string // provider errorCode, e.g. MSG-304
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("ringcentral ")
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoCallerNumber means neither the user nor the deployment has a caller ID.
var ErrNoCallerNumber = &Error{Kind: KindConfig, Message: "no caller number available"}

// ErrReauthRequired means the stored authorization is gone and the account
// has to be connected again through the authorize flow.
var ErrReauthRequired = &Error{Kind: KindAuth, Message: "re-authentication required"}

func configError(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

func authError(status int, code, msg string) *Error {
	return &Error{Kind: KindAuth, Status: status, Code: code, Message: msg}
}

// providerError classifies a non-2xx API reply.
func providerError(status int, code, msg string) *Error {
	kind := KindProvider
	if code == "MSG-304" || strings.Contains(msg, "Phone number doesn't belong to extension") {
		kind = KindSMSCapability
	}
	return &Error{Kind: kind, Status: status, Code: code, Message: msg}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessage is the text shown to the person who pressed call or text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoCallerNumber) {
		return "No caller number available. Please set your caller ID number in settings."
	}
	if errors.Is(err, ErrReauthRequired) {
		return "RingCentral needs to be reconnected. Please ask an administrator to sign in to RingCentral again."
	}
	switch KindOf(err) {
	case KindConfig:
		return "RingCentral credentials not configured. Please contact your administrator."
	case KindAuth:
		return "RingCentral authentication failed. Please try again or reconnect RingCentral."
	case KindSMSCapability:
		return "The configured phone number doesn't have SMS capability. Please contact your RingCentral administrator to enable SMS for this extension."
	case KindProvider:
		var e *Error
		errors.As(err, &e)
		if e.Message != "" {
			return "RingCentral rejected the request: " + e.Message
		}
		return "RingCentral rejected the request."
	}
	return "Unexpected error, please try again."
}
