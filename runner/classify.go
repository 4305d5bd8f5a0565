// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package runner

import (
	"os"
	"syscall"

	"github.com/fuzzbed/go-persist/harness"
)

// Outcome classifies how a harness process terminated.
type Outcome int

const (
	// OutcomeClean: graceful exhaustion of input or iteration budget.
	OutcomeClean Outcome = iota
	// OutcomeConfigError: the harness refused its setup before the
	// loop started. An engine bug or bad invocation, not a finding.
	OutcomeConfigError
	// OutcomeHarnessFault: a channel fault mid-loop. A harness or
	// engine bug; must not be attributed to the code under test.
	OutcomeHarnessFault
	// OutcomeDefect: the target killed the process. The finding this
	// whole system exists to produce.
	OutcomeDefect
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeConfigError:
		return "config-error"
	case OutcomeHarnessFault:
		return "harness-fault"
	case OutcomeDefect:
		return "defect"
	}
	return "unknown"
}

// Classify maps a terminated harness process onto the outcome
// taxonomy. The second return is the signal number for a defect
// delivered by signal, or the exit code otherwise. Any exit code
// outside the harness's reserved set counts as a defect: the Go
// runtime, for one, exits 2 on an unrecovered panic.
func Classify(state *os.ProcessState) (Outcome, int) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		if state.Success() {
			return OutcomeClean, 0
		}
		return OutcomeDefect, state.ExitCode()
	}
	if ws.Signaled() {
		return OutcomeDefect, int(ws.Signal())
	}
	switch code := ws.ExitStatus(); code {
	case harness.ExitOK:
		return OutcomeClean, code
	case harness.ExitConfig:
		return OutcomeConfigError, code
	case harness.ExitIO:
		return OutcomeHarnessFault, code
	default:
		return OutcomeDefect, code
	}
}
