package variant

import (
	"context"
	"errors"
	"net"
)

// Class is the outcome the walker applies to a failed branch.
type Class int

// Failure classes, from least to most severe.
const (
	ClassSkip Class = iota
	ClassRetry
	ClassFatalProduct
	ClassFatalSession
)

func (c Class) String() string {
	switch c {
	case ClassSkip:
		return "skip"
	case ClassRetry:
		return "retry"
	case ClassFatalProduct:
		return "fatal_product"
	case ClassFatalSession:
		return "fatal_session"
	default:
		return "unknown"
	}
}

// Stage names the walker step that failed.
type Stage string

// Walker stages.
const (
	StageOpen    Stage = "open"
	StageCount   Stage = "options_count"
	StageDefault Stage = "default_selection"
	StageSelect  Stage = "select"
	StageObserve Stage = "observe"
	StageCheck   Stage = "invalid_check"
	StageExtract Stage = "extract"
)

// Attempt describes the branch a failure occurred on. Try counts from 0.
type Attempt struct {
	Stage Stage
	Param int
	Path  SelectionPath
	Try   int
}

// Classifier decides what to do with an error raised on one branch.
type Classifier interface {
	Classify(attempt Attempt, err error) Class
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(attempt Attempt, err error) Class

// Classify calls f.
func (f ClassifierFunc) Classify(attempt Attempt, err error) Class {
	return f(attempt, err)
}

// DefaultClassifier implements the standard taxonomy:
//
//   - captcha and blocking signals burn the session;
//   - cancellation, broken pages and missing pages abort the product;
//   - timeouts on the first parameter abort the product, deeper they skip
//     the branch as an invalid combination;
//   - extraction failures skip the variant;
//   - flaky or unrecognised interaction errors are retried up to
//     RetryBudget times and then skipped, except when the first parameter
//     cannot even be counted.
type DefaultClassifier struct {
	RetryBudget int
}

// Classify implements Classifier.
func (c DefaultClassifier) Classify(attempt Attempt, err error) Class {
	switch {
	case errors.Is(err, ErrCaptcha), errors.Is(err, ErrBlocked):
		return ClassFatalSession
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrPageBroken),
		errors.Is(err, ErrNotFound):
		return ClassFatalProduct
	case isTimeout(err):
		if attempt.Param == 0 && attempt.Stage != StageExtract {
			return ClassFatalProduct
		}
		return ClassSkip
	case errors.Is(err, ErrExtraction),
		errors.Is(err, ErrMissingField),
		errors.Is(err, ErrIllFormatted):
		return ClassSkip
	case attempt.Stage == StageExtract:
		return ClassSkip
	}
	if attempt.Try < c.RetryBudget {
		return ClassRetry
	}
	if attempt.Stage == StageCount && attempt.Param == 0 {
		return ClassFatalProduct
	}
	return ClassSkip
}

func isTimeout(err error) bool {
	if errors.Is(err, ErrSettleTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
