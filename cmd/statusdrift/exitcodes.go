package main

import (
	"context"
	"errors"

	"statusdrift/internal/snapshot"
	"statusdrift/internal/store"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK         = 0
	exitFailure    = 1
	exitValidation = 2
	exitUsage      = 3
	exitDB         = 4
	exitDBWrite    = 5
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitFailure
}

// importExit classifies an error returned by an import or compare run.
func importExit(err error) error {
	if err == nil {
		return nil
	}
	var mse *snapshot.MalformedSourceError
	var perr *store.PersistenceError
	switch {
	case errors.As(err, &mse):
		return withCode(exitValidation, err)
	case errors.As(err, &perr), errors.Is(err, store.ErrImportInProgress):
		return withCode(exitDBWrite, err)
	case errors.Is(err, context.Canceled):
		return withCode(exitFailure, err)
	default:
		return withCode(exitDB, err)
	}
}
