package main

import (
	"errors"
	"strconv"

	"newsrelay/internal/api"
	"newsrelay/internal/services"
)

// exitError carries a process exit code out of a command. reported is set
// when the command already printed the failure.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "exit status " + strconv.Itoa(e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	if services.KindOf(err) == services.KindConfiguration {
		return api.ExitConfig
	}
	return api.ExitFailure
}
