package access

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("access: not found")
	ErrConflict      = errors.New("access: already exists")
	ErrInvalidInput  = errors.New("access: invalid input")
	ErrAuthorisation = errors.New("access: not permitted")
	ErrMissingGroup  = errors.New("access: user does not belong to a group")
	ErrInconsistency = errors.New("access: data integrity violation")
)

// MembershipError reports a violation of the one-group-per-user invariant.
// It carries the conflicting group ids for diagnostics.
type MembershipError struct {
	UserID string
	Groups []string
}

func (e *MembershipError) Error() string {
	return fmt.Sprintf("access: user %s already belongs to a group (%s)",
		e.UserID, strings.Join(e.Groups, ", "))
}

// Is lets errors.Is treat a membership violation as a conflict.
func (e *MembershipError) Is(target error) bool {
	return target == ErrConflict
}
