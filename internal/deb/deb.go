// Package deb installs a `.deb` package onto the SoC over SSH/SCP. Driving
// the state machine into kernel_normal beforehand is left to the caller
// (cmd/boardprov's deb subcommand).
//
// This is explicitly out of core scope as "an SSH/SCP layer" — it is kept
// thin per that scoping, shelling out to the scp/ssh binaries exactly as
// original_source/commandset/deb.py does
// (`subprocess.run(f'scp ...')`/`subprocess.run(f'ssh ... dpkg -i ...')`)
// rather than adding a Go SSH client dependency for a component the spec
// names as a glue layer, not a subsystem to build out.
package deb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/carizon/boardprov/config"
)

const (
	pushTimeout    = 10 * time.Second
	installTimeout = 10 * time.Second
)

// Push copies packagePath to target's scratch directory over scp.
func Push(ctx context.Context, packagePath string, target config.SSHTarget) error {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	dest := fmt.Sprintf("%s@%s:/tmp", target.User, target.Addr)
	cmd := exec.CommandContext(ctx, "scp", packagePath, dest)
	var out bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("deb: scp %s to %s: %w: %s", packagePath, dest, err, out.String())
	}
	return nil
}

// Install runs `dpkg -i` on target for a package already pushed to /tmp.
func Install(ctx context.Context, packageName string, target config.SSHTarget) error {
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	dest := fmt.Sprintf("%s@%s", target.User, target.Addr)
	cmd := exec.CommandContext(ctx, "ssh", dest, "dpkg", "-i", "/tmp/"+packageName)
	var out bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("deb: ssh install %s on %s: %w: %s", packageName, dest, err, out.String())
	}
	return nil
}
