// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the modelgate command line: argument parsing, the
// serve command that wires every component into a running gateway, and the
// operator commands (models, config, doctor, version).
//
// Commands return errors; main maps them to exit codes with GetExitCode.
// With --json every command prints a JSONResponse envelope instead of
// styled text.
package cli
