// Package relay drives the power relay that controls board power: three
// interchangeable backends (HTTP bitmask query, Modbus-TCP via a library
// client, and a hand-rolled raw Modbus-TCP frame), a process-wide named
// lock so concurrent CI workers never fight over the same relay, and an
// injectable confirmation capability for the "you're about to toggle a
// port you don't own" guard.
//
// Grounded on original_source/commandset/reboot.py's BaseRelay/Relay_*
// class hierarchy, reworked into the tagged-interface-variant shape this
// toolkit's design notes call for in place of a class hierarchy.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/carizon/boardprov/internal/boarderr"
)

// PortState is the on/off state of one relay port. Following the original
// tool's wire encoding, On corresponds to bit value 0 and Off to bit value 1.
type PortState int

const (
	StateOn PortState = iota
	StateOff
)

func (s PortState) String() string {
	if s == StateOn {
		return "on"
	}
	return "off"
}

const (
	maxPortNum      = 16
	rebootInterval  = 500 * time.Millisecond
	lockName        = "carizon_relay"
	lockHoldTimeout = rebootInterval + 3500*time.Millisecond
)

// Backend is the per-vendor relay transport: query and set one port's
// state. Implementations are HTTPBackend, ModbusBackend, and RawModbusBackend.
type Backend interface {
	Query(ctx context.Context, port int) (PortState, error)
	Set(ctx context.Context, port int, state PortState) error
}

// Confirm is injected so the CLI can satisfy it interactively (read a line
// from stdin, gated on an isatty check) while tests and `-y` CI runs supply
// a capability that always returns true.
type Confirm func(port int) bool

// AlwaysConfirm never blocks; used for -y and in tests.
func AlwaysConfirm(int) bool { return true }

// ErrQueryUnsupported is returned by a Backend.Query that has no way to
// read a port's current state (the corx relay's raw protocol is
// write-only). Relay.execute treats this as "state unknown" and always
// issues the write rather than failing the whole operation.
var ErrQueryUnsupported = fmt.Errorf("relay: query not supported by this backend")

// Lock is the distributed named lock guarding exclusive relay access across
// concurrent CI workers.
type Lock interface {
	// Acquire blocks until the lock is held or ctx/timeout expires,
	// returning a release function.
	Acquire(ctx context.Context, name string, timeout time.Duration) (release func(), err error)
}

// Relay is the exported façade: a backend, a lock, the port this process is
// authorized to act on by default, and a confirm capability for any other
// port.
type Relay struct {
	backend   Backend
	lock      Lock
	ownedPort int
	confirm   Confirm
}

// New builds a Relay. ownedPort is the port this CI job's own board is wired
// to; confirm is consulted whenever the caller asks to act on a different
// port, matching reboot.py's interactive guard.
func New(backend Backend, lock Lock, ownedPort int, confirm Confirm) *Relay {
	if confirm == nil {
		confirm = AlwaysConfirm
	}
	return &Relay{backend: backend, lock: lock, ownedPort: ownedPort, confirm: confirm}
}

// On turns port on, idempotently: if the port already reads on, no command
// is sent.
func (r *Relay) On(ctx context.Context, port int) error {
	return r.execute(ctx, port, StateOn)
}

// Off turns port off, idempotently.
func (r *Relay) Off(ctx context.Context, port int) error {
	return r.execute(ctx, port, StateOff)
}

// Reboot turns port off, waits rebootInterval, then turns it on, all under
// a single lock acquisition so no other worker's reboot can interleave.
func (r *Relay) Reboot(ctx context.Context, port int) error {
	if err := r.validatePort(port); err != nil {
		return err
	}
	if port != r.ownedPort && !r.confirm(port) {
		return fmt.Errorf("relay: reboot port %d: %w", port, boarderr.ErrUserAbort)
	}

	release, err := r.lock.Acquire(ctx, lockName, lockHoldTimeout)
	if err != nil {
		return fmt.Errorf("relay: acquire lock: %w", err)
	}
	defer release()

	if err := r.backend.Set(ctx, port, StateOff); err != nil {
		return fmt.Errorf("relay: reboot port %d off: %w", port, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(rebootInterval):
	}

	if err := r.backend.Set(ctx, port, StateOn); err != nil {
		return fmt.Errorf("relay: reboot port %d on: %w", port, err)
	}
	return nil
}

func (r *Relay) execute(ctx context.Context, port int, want PortState) error {
	if err := r.validatePort(port); err != nil {
		return err
	}
	if port != r.ownedPort && !r.confirm(port) {
		return fmt.Errorf("relay: set port %d to %s: %w", port, want, boarderr.ErrUserAbort)
	}

	release, err := r.lock.Acquire(ctx, lockName, lockHoldTimeout)
	if err != nil {
		return fmt.Errorf("relay: acquire lock: %w", err)
	}
	defer release()

	current, err := r.backend.Query(ctx, port)
	if err != nil && err != ErrQueryUnsupported {
		return fmt.Errorf("relay: query port %d: %w", port, err)
	}
	if err == nil && current == want {
		return nil
	}

	return r.backend.Set(ctx, port, want)
}

func (r *Relay) validatePort(port int) error {
	if port < 1 || port > maxPortNum {
		return fmt.Errorf("relay: port %d out of range [1,%d]: %w", port, maxPortNum, boarderr.ErrConfig)
	}
	return nil
}
