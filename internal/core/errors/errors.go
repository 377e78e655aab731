// Package errors holds the sentinel errors shared across the pipeline
// stages, the storage layer and the HTTP surface. Stages classify
// adapter and provider failures into outcome classes to pick a retry
// policy; handlers map entity and validation sentinels to status codes.
// Wrap with fmt.Errorf("%w") so errors.Is checks keep working through
// the layers.
package errors

import "errors"

// Outcome classes. Background workers pick a retry policy from these;
// the HTTP layer maps them to status codes.
var (
	// ErrTransient indicates a retryable external failure (network, 5xx).
	ErrTransient = errors.New("transient external error")

	// ErrPermanent indicates a non-retryable external failure.
	ErrPermanent = errors.New("permanent external error")

	// ErrQuotaExceeded indicates a plan allowance was reached. A normal
	// business outcome, not a fault.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrDataMissing indicates required input data is absent, e.g. a
	// campaign without an ideal podcast description.
	ErrDataMissing = errors.New("required data missing")
)

// Source adapter taxonomy.
var (
	// ErrAuth indicates invalid or missing adapter credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrRateLimited indicates the adapter asked the caller to back off.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound indicates the requested record does not exist upstream.
	ErrNotFound = errors.New("not found")
)

// Entity resolution errors.
var (
	// ErrCampaignNotFound indicates a campaign could not be found.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrMediaNotFound indicates a media row could not be found.
	ErrMediaNotFound = errors.New("media not found")

	// ErrDiscoveryNotFound indicates a discovery row could not be found.
	ErrDiscoveryNotFound = errors.New("discovery not found")

	// ErrReviewTaskNotFound indicates a review task could not be found.
	ErrReviewTaskNotFound = errors.New("review task not found")

	// ErrProfileNotFound indicates no client profile exists for a person.
	ErrProfileNotFound = errors.New("client profile not found")

	// ErrMatchNotFound indicates a match suggestion could not be found.
	ErrMatchNotFound = errors.New("match not found")

	// ErrTaskNotFound indicates an unknown scheduler task name.
	ErrTaskNotFound = errors.New("task not found")
)

// State transition errors.
var (
	// ErrIllegalTransition indicates a status change that violates the
	// pipeline state machine.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrNotOwner indicates the acting person does not own the campaign.
	ErrNotOwner = errors.New("not the campaign owner")

	// ErrUnauthorized indicates the access token did not resolve to a person.
	ErrUnauthorized = errors.New("unauthorized")
)

// LLM response errors.
var (
	// ErrEmptyResponse indicates a provider returned no content.
	ErrEmptyResponse = errors.New("empty response")

	// ErrSchemaViolation indicates an LLM response did not match the
	// required JSON schema after retries.
	ErrSchemaViolation = errors.New("response violates schema")
)

// Validation errors.
var (
	// ErrInvalidInput indicates a request failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidID indicates an identifier that does not parse.
	ErrInvalidID = errors.New("invalid id")
)

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Retryable reports whether err belongs to a class that a background
// worker should retry with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
