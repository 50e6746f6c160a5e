package main

import "github.com/kingrea/ciweave/internal/failure"

const (
	exitOK           = 0
	exitFailure      = 1
	exitInvalidInput = 2
	exitDrift        = 3
	exitValidation   = 4
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch failure.KindOf(err) {
	case failure.KindInputNotFound, failure.KindConfigInvalid, failure.KindParseFailed:
		return exitInvalidInput
	case failure.KindDriftDetected:
		return exitDrift
	case failure.KindValidationFailed:
		return exitValidation
	default:
		return exitFailure
	}
}
