package oauth

import "fmt"

// Error is an RFC 6749 protocol error with a stable machine code.
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return "oauth: " + e.Code
	}
	return fmt.Sprintf("oauth: %s: %s", e.Code, e.Description)
}

// Is matches on the stable code so wrapped variants with richer
// descriptions still compare equal to the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithDescription returns a copy carrying a request-specific description.
func (e *Error) WithDescription(format string, args ...any) *Error {
	return &Error{Code: e.Code, Description: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidRequest       = &Error{Code: "invalid_request"}
	ErrInvalidClient        = &Error{Code: "invalid_client"}
	ErrInvalidGrant         = &Error{Code: "invalid_grant"}
	ErrUnauthorizedClient   = &Error{Code: "unauthorized_client"}
	ErrUnsupportedGrantType = &Error{Code: "unsupported_grant_type"}
	ErrInvalidScope         = &Error{Code: "invalid_scope"}
	ErrAccessDenied         = &Error{Code: "access_denied"}
	ErrServerError          = &Error{Code: "server_error"}
)
