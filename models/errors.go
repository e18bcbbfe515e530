package models

import "github.com/go-faster/errors"

// Error kinds. Callers wrap them with context and classify with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrAuthenticity  = errors.New("signal not authentic")
	ErrNotSubscribed = errors.New("not subscribed")
	ErrNotFound      = errors.New("not found")
	ErrStore         = errors.New("store failure")
	ErrTransport     = errors.New("transport failure")
)

// StoreError marks err as a durable store failure while keeping the cause.
func StoreError(err error, op string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: ErrStore, op: op, err: err}
}

type kindError struct {
	kind error
	op   string
	err  error
}

func (e *kindError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}
