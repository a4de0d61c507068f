package statemachine

import (
	"context"
	"io"
	"testing"
	"time"
)

type scriptedPort struct {
	lines []string
	idx   int
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

func (p *scriptedPort) Write(b []byte) (int, error)        { return len(b), nil }
func (p *scriptedPort) Close() error                       { return nil }
func (p *scriptedPort) ResetInputBuffer() error             { return nil }
func (p *scriptedPort) SetReadTimeout(time.Duration) error  { return nil }

func TestCompilePromptsAndDetect(t *testing.T) {
	prompts, err := CompilePrompts(map[string]string{
		"power_off":       `^$`,
		"uboot":           `=>\s*$`,
		"kernel_normal":   `root@normal:`,
		"kernel_recovery": `root@recovery:`,
	})
	if err != nil {
		t.Fatalf("CompilePrompts: %v", err)
	}

	if got := prompts.Detect("root@normal:~# "); got != StateKernelNormal {
		t.Fatalf("Detect = %v, want %v", got, StateKernelNormal)
	}
	if got := prompts.Detect("totally unrecognized text"); got != StateUnknown {
		t.Fatalf("Detect = %v, want %v", got, StateUnknown)
	}
}

func TestCompilePromptsRejectsBadRegex(t *testing.T) {
	if _, err := CompilePrompts(map[string]string{"bad": "(["}); err == nil {
		t.Fatal("expected a compile error for an invalid regex")
	}
}

func TestWaitForDetectsTargetState(t *testing.T) {
	prompts, _ := CompilePrompts(map[string]string{
		"kernel_normal": "root@normal:",
	})
	port := &scriptedPort{lines: []string{"booting...", "root@normal:~# "}}
	m := New(port, prompts)

	if err := m.WaitFor(context.Background(), StateKernelNormal, time.Second); err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
}

func TestWaitForTimesOut(t *testing.T) {
	prompts, _ := CompilePrompts(map[string]string{
		"kernel_normal": "root@normal:",
	})
	port := &scriptedPort{lines: []string{"still booting..."}}
	m := New(port, prompts)

	err := m.WaitFor(context.Background(), StateKernelNormal, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected WaitFor to time out")
	}
}

func TestEntryKernelSkipsEntryWhenAlreadyThere(t *testing.T) {
	prompts, _ := CompilePrompts(map[string]string{
		"kernel_normal": "root@normal:",
	})
	port := &scriptedPort{lines: []string{"root@normal:~# "}}
	m := New(port, prompts)

	called := false
	enter := func(ctx context.Context, m *Machine) error {
		called = true
		return nil
	}

	if err := m.EntryKernel(context.Background(), "normal", enter, time.Second); err != nil {
		t.Fatalf("EntryKernel: %v", err)
	}
	if called {
		t.Fatal("entry strategy should not run when already in the target state")
	}
}

func TestEntryKernelRunsEntryWhenNot(t *testing.T) {
	prompts, _ := CompilePrompts(map[string]string{
		"kernel_normal": "root@normal:",
	})
	port := &scriptedPort{lines: []string{"power off...", "root@normal:~# "}}
	m := New(port, prompts)

	called := false
	enter := func(ctx context.Context, m *Machine) error {
		called = true
		return nil
	}

	if err := m.EntryKernel(context.Background(), "normal", enter, time.Second); err != nil {
		t.Fatalf("EntryKernel: %v", err)
	}
	if !called {
		t.Fatal("entry strategy should run when not already in the target state")
	}
}

func TestEntryKernelRejectsUnknownKind(t *testing.T) {
	prompts, _ := CompilePrompts(map[string]string{})
	port := &scriptedPort{}
	m := New(port, prompts)

	err := m.EntryKernel(context.Background(), "bogus", func(context.Context, *Machine) error {
		return nil
	}, time.Second)
	if err == nil {
		t.Fatal("expected an error for an unknown kernel kind")
	}
}
