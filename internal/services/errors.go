package services

import "errors"

var (
	ErrJobTerminal    = errors.New("generation job already terminal")
	ErrStepNotRunning = errors.New("generation step is not running")
	ErrStepStillOpen  = errors.New("previous generation step still open")
	ErrIncompleteJob  = errors.New("generation job has steps that did not complete")
)
