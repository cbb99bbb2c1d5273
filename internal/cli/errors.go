// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/modelgate/internal/config"
	"github.com/jeranaias/modelgate/internal/errs"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates an unreadable or invalid configuration
	ExitConfigError = 3
	// ExitUnavailable indicates a dependency (store, provider) is down
	ExitUnavailable = 5
)

// UsageError reports a malformed command line.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// configError marks a failure to load or validate the configuration.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}
	var cfgErr *configError
	var invalid config.ValidateErrors
	if errors.As(err, &cfgErr) || errors.As(err, &invalid) {
		return ExitConfigError
	}
	if errs.KindOf(err) == errs.KindStoreUnavailable {
		return ExitUnavailable
	}
	return ExitGeneralError
}

// DisplayError writes err to w, as a JSON envelope in JSON mode.
func DisplayError(w io.Writer, cmd Command, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		NewJSONErrorResponse(cmd.String(), err, nil).Print(w)
		return
	}

	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())

	var invalid config.ValidateErrors
	if errors.As(err, &invalid) {
		for _, v := range invalid {
			fmt.Fprintf(w, "  - %s\n", v.Error())
		}
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		fmt.Fprintln(w, DimStyle.Render("Run 'modelgate help' for usage."))
	}
}
