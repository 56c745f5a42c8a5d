package core

import "errors"

// ErrIntegrity is returned by authenticated requests that failed the
// anti-automation check.
var ErrIntegrity = errors.New("failed integrity check")

// IsIntegrity reports whether err is, wraps, or textually equals ErrIntegrity.
func IsIntegrity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIntegrity) {
		return true
	}
	return err.Error() == ErrIntegrity.Error()
}
