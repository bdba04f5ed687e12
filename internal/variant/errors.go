package variant

import (
	"errors"
	"fmt"
)

// Sentinel errors raised by strategies, observers and browser adapters.
// The Classifier keys its decisions off these.
var (
	// ErrSettleTimeout means a page interaction did not complete in time.
	ErrSettleTimeout = errors.New("page did not settle")
	// ErrFlaky marks an interaction that is likely to succeed on a second try.
	ErrFlaky = errors.New("flaky interaction")
	// ErrExtraction wraps any failure of the detail extractor.
	ErrExtraction = errors.New("extraction failed")
	// ErrMissingField means a required product field was absent.
	ErrMissingField = errors.New("required field missing")
	// ErrIllFormatted means the page markup did not match the retailer layout.
	ErrIllFormatted = errors.New("ill-formatted page")
	// ErrPageBroken means the page handle can no longer be driven.
	ErrPageBroken = errors.New("page is broken")
	// ErrNotFound means the product page does not exist.
	ErrNotFound = errors.New("page not found")
	// ErrCaptcha means an anti-bot challenge was shown.
	ErrCaptcha = errors.New("captcha encountered")
	// ErrBlocked means the retailer refused to serve the session.
	ErrBlocked = errors.New("blocked by retailer")
)

// ProductError aborts exploration of one product. Other products are unaffected.
type ProductError struct {
	URL   string
	Stage Stage
	Path  SelectionPath
	Err   error
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("explore %s: %s at %s: %v", e.URL, e.Stage, e.Path, e.Err)
}

func (e *ProductError) Unwrap() error {
	return e.Err
}

// SessionError aborts the product and marks the browsing session as burned.
type SessionError struct {
	URL   string
	Stage Stage
	Path  SelectionPath
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session burned exploring %s: %s at %s: %v", e.URL, e.Stage, e.Path, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// SinkError is returned when the output sink rejects a record. It is not
// classified; the product is abandoned with the records emitted so far.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("push record: %v", e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// IsSessionFatal reports whether err requires the browsing session to be rotated.
func IsSessionFatal(err error) bool {
	var sessionErr *SessionError
	return errors.As(err, &sessionErr)
}
