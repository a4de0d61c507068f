// Package statemachine classifies and drives the SoC's boot state by
// matching configurable regex prompts against its serial console, and
// drives transitions between states through a caller-supplied entry
// strategy (in cmd/boardprov, a relay power cycle).
//
// Grounded on the state_machine dependency deb.py calls into
// (`state_machine(logger).entry_kernel('normal')`), whose own source isn't
// present in the retrieval pack; the prompt-regex/timeout-table shape
// follows the same configuration pattern as every other component here
// (state.json via the config package) rather than inventing a new one.
package statemachine

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/carizon/boardprov/internal/boarderr"
	"github.com/carizon/boardprov/internal/serialio"
)

// State is one node in the board lifecycle.
type State string

const (
	StatePowerOff       State = "power_off"
	StateUboot          State = "uboot"
	StateKernelNormal   State = "kernel_normal"
	StateKernelRecovery State = "kernel_recovery"
	StateUnknown        State = "unknown"
)

// Prompts maps each recognizable state to the regex that detects it on the
// SoC console, loaded from state.json.
type Prompts map[State]*regexp.Regexp

// CompilePrompts compiles the raw string patterns from config.StatePrompts
// into Prompts, failing fast on a malformed regex rather than at match time.
func CompilePrompts(raw map[string]string) (Prompts, error) {
	out := make(Prompts, len(raw))
	for name, pattern := range raw {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("statemachine: compile prompt %q: %w: %w", name, err, boarderr.ErrConfig)
		}
		out[State(name)] = re
	}
	return out, nil
}

// Detect reads text (typically the last chunk of SoC console output) and
// returns the first configured state whose prompt matches, or StateUnknown.
func (p Prompts) Detect(text string) State {
	for state, re := range p {
		if re.MatchString(text) {
			return state
		}
	}
	return StateUnknown
}

// Machine drives state transitions over a SoC serial console.
type Machine struct {
	soc     serialio.Port
	prompts Prompts
}

// New builds a Machine over an already-open SoC console port.
func New(soc serialio.Port, prompts Prompts) *Machine {
	return &Machine{soc: soc, prompts: prompts}
}

// Poll sends a newline and classifies whatever comes back, used by callers
// polling for a state transition in a loop.
func (m *Machine) Poll(ctx context.Context) (State, error) {
	if _, err := m.soc.Write([]byte("\n")); err != nil {
		return StateUnknown, fmt.Errorf("statemachine: write probe: %w", err)
	}

	buf := make([]byte, 4096)
	n, err := serialio.ReadWithTimeout(m.soc, buf, 2*time.Second)
	if err != nil && n == 0 {
		return StateUnknown, nil
	}
	return m.prompts.Detect(string(buf[:n])), nil
}

// WaitFor polls until want is detected or ctx/timeout expires.
func (m *Machine) WaitFor(ctx context.Context, want State, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		state, err := m.Poll(ctx)
		if err != nil {
			return err
		}
		if state == want {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("statemachine: timed out waiting for %s: %w", want, boarderr.ErrProtocol)
}

// EntryFunc drives the board from its current state into target, performing
// whatever relay/uartboot actions are needed; concrete entry strategies
// (e.g. the relay-reboot closure in cmd/boardprov's deb subcommand) are
// supplied by the caller, so this package does not import the relay or
// UART bootstrap packages.
type EntryFunc func(ctx context.Context, m *Machine) error

// EntryKernel drives the board into the named kernel state ("normal" or
// "recovery") using enter as the concrete strategy, matching deb.py's
// `state_machine(logger).entry_kernel('normal')` call.
func (m *Machine) EntryKernel(ctx context.Context, kind string, enter EntryFunc, timeout time.Duration) error {
	var want State
	switch kind {
	case "normal":
		want = StateKernelNormal
	case "recovery":
		want = StateKernelRecovery
	default:
		return fmt.Errorf("statemachine: unknown kernel kind %q: %w", kind, boarderr.ErrConfig)
	}

	if state, _ := m.Poll(ctx); state == want {
		return nil
	}

	if err := enter(ctx, m); err != nil {
		return fmt.Errorf("statemachine: enter kernel %s: %w", kind, err)
	}
	return m.WaitFor(ctx, want, timeout)
}
