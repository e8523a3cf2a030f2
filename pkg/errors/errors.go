package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")

	ErrInvalidWebhook     = errors.New("invalid webhook")
	ErrProvider           = errors.New("provider error")
	ErrAllProvidersFailed = errors.New("all providers failed")
	ErrComplianceBlocked  = errors.New("compliance blocked")
	ErrRateLimited        = errors.New("rate limited")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}

// Recoverable reports whether err belongs to the class of failures that the
// engine turns into a typed result instead of propagating.
func Recoverable(err error) bool {
	return errors.Is(err, ErrProvider) ||
		errors.Is(err, ErrAllProvidersFailed) ||
		errors.Is(err, ErrComplianceBlocked) ||
		errors.Is(err, ErrRateLimited)
}
