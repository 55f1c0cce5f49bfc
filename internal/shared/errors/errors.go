package errors

import (
	"errors"

	"github.com/samber/oops"
)

// oops codes attached to wrapped errors
const (
	CodeConfig        = "config_error"
	CodeQueryRace     = "query_race_condition"
	CodeTransport     = "transport_failure"
	CodeStoreCorrupt  = "store_corrupt"
	CodeArchiveExists = "archive_exists"
)

var (
	ErrInvalidTier        = errors.New("log_level must be between 0 and 3 inclusive")
	ErrSkipRepeatsTier    = errors.New("skip_repeats can only be enabled when log_level is >= 2")
	ErrNoSites            = errors.New("filter has no sites")
	ErrNoPatterns         = errors.New("filter has no regexes")
	ErrUnknownFilter      = errors.New("unknown filter")
	ErrInvalidPattern     = errors.New("invalid regex")
	ErrQueryRaceCondition = errors.New("query race condition")
	ErrTransport          = errors.New("event stream transport failure")
	ErrStoreCorrupt       = errors.New("flagged changes log is corrupt")
	ErrArchiveExists      = errors.New("archive file already exists")
	ErrInvalidArchivePath = errors.New("archive path element is not a plain name")
)

// IsConfigError reports whether err is a startup configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidTier) ||
		errors.Is(err, ErrSkipRepeatsTier) ||
		errors.Is(err, ErrNoSites) ||
		errors.Is(err, ErrNoPatterns) ||
		errors.Is(err, ErrUnknownFilter) ||
		errors.Is(err, ErrInvalidPattern)
}

// ReasonInvalidUser marks a race condition caused by a username the API
// rejects outright, such as the IP address of an anonymous editor
const ReasonInvalidUser = "invalid_user"

// Body returns the remote response attached to an error, if any
func Body(err error) string {
	return contextString(err, "body")
}

// Reason returns the reason attached to a race condition, if any
func Reason(err error) string {
	return contextString(err, "reason")
}

func contextString(err error, key string) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if value, ok := oopsErr.Context()[key].(string); ok {
		return value
	}
	return ""
}
