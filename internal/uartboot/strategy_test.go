package uartboot

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/carizon/boardprov/internal/relay"
)

type scriptedPort struct {
	lines []string
	idx   int
	sent  [][]byte
}

func (p *scriptedPort) Read(buf []byte) (int, error) {
	if p.idx >= len(p.lines) {
		return 0, io.EOF
	}
	line := p.lines[p.idx]
	p.idx++
	n := copy(buf, line)
	return n, nil
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	p.sent = append(p.sent, cp)
	return len(b), nil
}

func (p *scriptedPort) Close() error                      { return nil }
func (p *scriptedPort) ResetInputBuffer() error            { return nil }
func (p *scriptedPort) SetReadTimeout(time.Duration) error { return nil }

func TestEnterByMCUGotoUARTSucceedsOnCCC(t *testing.T) {
	port := &scriptedPort{lines: []string{"waiting...", "CCC"}}
	unlockCalled := false
	unlock := func(ctx context.Context) error {
		unlockCalled = true
		return nil
	}

	if err := EnterByMCUGotoUART(context.Background(), port, unlock); err != nil {
		t.Fatalf("EnterByMCUGotoUART: %v", err)
	}
	if unlockCalled {
		t.Fatal("unlock should not run when CCC appears without an UART-locked response")
	}
}

func TestEnterByMCUGotoUARTRunsUnlockOnLockedResponse(t *testing.T) {
	port := &scriptedPort{lines: []string{"UART locked", "CCC"}}
	unlockCalled := false
	unlock := func(ctx context.Context) error {
		unlockCalled = true
		return nil
	}

	if err := EnterByMCUGotoUART(context.Background(), port, unlock); err != nil {
		t.Fatalf("EnterByMCUGotoUART: %v", err)
	}
	if !unlockCalled {
		t.Fatal("expected unlock to run after an UART-locked response")
	}
}

type fakeRelayBackend struct {
	setCalls int
}

func (b *fakeRelayBackend) Query(ctx context.Context, port int) (relay.PortState, error) {
	return relay.StateOn, nil
}

func (b *fakeRelayBackend) Set(ctx context.Context, port int, state relay.PortState) error {
	b.setCalls++
	return nil
}

type fakeRelayLock struct{}

func (fakeRelayLock) Acquire(ctx context.Context, name string, timeout time.Duration) (func(), error) {
	return func() {}, nil
}

func TestEnterByMCUReboot(t *testing.T) {
	backend := &fakeRelayBackend{}
	r := relay.New(backend, fakeRelayLock{}, 1, relay.AlwaysConfirm)
	port := &scriptedPort{lines: []string{"noise", "CCC"}}

	if err := EnterByMCUReboot(context.Background(), r, 1, port); err != nil {
		t.Fatalf("EnterByMCUReboot: %v", err)
	}
	if backend.setCalls != 2 {
		t.Fatalf("relay setCalls = %d, want 2 (off then on)", backend.setCalls)
	}
}

func TestEnterByManualOperationDetectsPassiveCCC(t *testing.T) {
	port := &scriptedPort{lines: []string{"#", "random", "CCC"}}
	if err := EnterByManualOperation(context.Background(), port); err != nil {
		t.Fatalf("EnterByManualOperation: %v", err)
	}
}
