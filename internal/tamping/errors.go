package tamping

import "errors"

var (
	// ErrValidation marks bad caller input. Nothing has been read or sent.
	ErrValidation = errors.New("invalid request")

	// ErrLookup marks a store read failure before the classifier was called.
	ErrLookup = errors.New("point lookup failed")

	// ErrDecisionRequest marks a classifier failure: a network error, a
	// non-2xx status or a response that breaks the decision contract.
	ErrDecisionRequest = errors.New("decision request failed")

	// ErrPersistence marks a decision that was issued by the classifier but
	// could not be logged.
	ErrPersistence = errors.New("failed to log decision")

	// ErrUnknownSample is returned when the classifier does not know the
	// sample a feedback label refers to.
	ErrUnknownSample = errors.New("unknown sample id")
)
