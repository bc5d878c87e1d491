package main

import (
	"errors"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
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
	exitValidation = 2
	exitUsage      = 3
	exitDB         = 4
	exitDBWrite    = 5
	exitSafetyNet  = 6
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
	return 1
}

// serviceCode classifies an error returned by the backup service.
func serviceCode(err error) int {
	switch {
	case errors.Is(err, snapshot.ErrFormat),
		errors.Is(err, snapshot.ErrVersionMismatch),
		errors.Is(err, backup.ErrTenantNotFound):
		return exitValidation
	case errors.Is(err, backup.ErrImportAborted):
		return exitDBWrite
	default:
		return exitDB
	}
}
