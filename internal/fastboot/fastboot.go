// Package fastboot drives the vendor fastboot CLI to flash a manifest's
// images onto a board already in fastboot mode, over either USB or the
// board's UDP fastboot-over-Ethernet transport.
//
// Grounded on original_source/commandset/fastboot.py's Fastboot class:
// command synthesis and retry loop kept, subprocess invocation translated
// to os/exec (no fastboot-protocol Go library exists anywhere in the
// retrieval pack, so shelling out to the vendor binary is the grounded
// choice, exactly as the original and upstream Android tooling both do).
package fastboot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/carizon/boardprov/internal/boarderr"
	"github.com/carizon/boardprov/internal/retry"
)

// sparseThreshold is the file size above which fastboot's sparse-image
// flag (-S 32M) is added to a flash command.
const sparseThreshold = 32 * 1024 * 1024

const maxCommandRetries = 3

// Transport selects how fastboot reaches the board.
type Transport string

const (
	TransportUSB Transport = "usb"
	TransportEth Transport = "eth"
)

// transportFlag renders fastboot's -s argument for the given transport,
// matching fastboot_options = {"eth": "-s udp:<ip>:5554 ", "usb": ""}.
func transportFlag(t Transport, ipAddr string) []string {
	if t == TransportEth {
		return []string{"-s", fmt.Sprintf("udp:%s:5554", ipAddr)}
	}
	return nil
}

// Command is one fastboot invocation ready to run. Timeout is zero for
// commands with no partition (the trailing reboot), meaning Run applies no
// per-command deadline beyond the caller's own context.
type Command struct {
	Args      []string
	Partition string
	Timeout   time.Duration
}

// flashCommand builds the single `fastboot flash` command for one image,
// resolving its sparse-image flag, target partition argument, and
// per-partition timeout. hasGPT is an extra override consulted only when
// img.HasGPT itself is false, letting callers that don't flatten a manifest
// (and so leave Image.HasGPT zero) supply their own GPT test.
func flashCommand(img Image, hasGPT func(partition string) bool, sizeOf func(path string) (int64, error), t Transport, ip string) (Command, error) {
	size, err := sizeOf(img.Path)
	if err != nil {
		return Command{}, fmt.Errorf("fastboot: stat %s: %w", img.Path, err)
	}

	timeout, err := TimeoutFor(img.Partition, t)
	if err != nil {
		return Command{}, err
	}

	partArg := "0"
	if img.HasGPT || (hasGPT != nil && hasGPT(img.Partition)) {
		partArg = img.Partition
	}

	args := append([]string{}, transportFlag(t, ip)...)
	args = append(args, "flash", partArg)
	if size > sparseThreshold {
		args = append(args, "-S", "32M")
	}
	args = append(args, img.Path)

	return Command{Args: args, Partition: img.Partition, Timeout: timeout}, nil
}

func rebootCommand(t Transport, ip string) Command {
	args := append([]string{}, transportFlag(t, ip)...)
	args = append(args, "reboot")
	return Command{Args: args}
}

// Plan is the full ordered sequence of fastboot commands for one upgrade,
// including the trailing `fastboot reboot`. Every image's partition must
// appear in the partition-attribute table (TimeoutFor); an unrecognized
// partition fails plan construction rather than flashing with a guessed
// timeout.
func Plan(images []Image, hasGPT func(partition string) bool, sizeOf func(path string) (int64, error), t Transport, ip string) ([]Command, error) {
	var plan []Command

	for _, img := range images {
		cmd, err := flashCommand(img, hasGPT, sizeOf, t, ip)
		if err != nil {
			return nil, err
		}
		plan = append(plan, cmd)
	}

	plan = append(plan, rebootCommand(t, ip))
	return plan, nil
}

// MediumInitCommands returns the host-side bootstrap commands fastboot must
// issue before flashing medium for the first time in one image's command
// block: the oem interface selector for every medium, plus (eMMC mediums
// only) the bootdevice/partconf sequence that targets partNum on mmc device
// devnum. Mirrors fastboot.py's per-image "oem interface"/"oem bootdevice"/
// "oem runcommand:mmc partconf" emission, re-issued per image occurrence
// rather than cached across the plan. An unrecognized medium yields no
// commands, matching the original's "unknown medium" skip.
func MediumInitCommands(medium string, devnum, partNum int, t Transport, ip string) []Command {
	flag := transportFlag(t, ip)
	iface := func(kind string) Command {
		args := append([]string{}, flag...)
		args = append(args, "oem", "interface:"+kind)
		return Command{Args: args}
	}

	switch medium {
	case "emmc", "emmc_boot0", "emmc_boot1":
		bootdevice := append([]string{}, flag...)
		bootdevice = append(bootdevice, "oem", "bootdevice:mmc")

		partconf := append([]string{}, flag...)
		partconf = append(partconf, "oem", fmt.Sprintf("runcommand:mmc partconf %d 1 1 %d", devnum, partNum))

		return []Command{iface("blk"), {Args: bootdevice}, {Args: partconf}}
	case "nor":
		return []Command{iface("mtd")}
	default:
		return nil
	}
}

// BuildPlan assembles the full command sequence for a manifest-derived
// image list: every image's per-medium init commands immediately ahead of
// its flash command (re-emitted per image, matching fastboot.py's layout),
// followed by a single trailing reboot. mediumInit resolves the init
// commands for one image's medium; images are expected to already carry an
// accurate HasGPT (as FlattenImages/WithSyntheticGPT produce).
func BuildPlan(images []Image, mediumInit func(medium string) []Command, sizeOf func(path string) (int64, error), t Transport, ip string) ([]Command, error) {
	var plan []Command

	for _, img := range images {
		if mediumInit != nil {
			plan = append(plan, mediumInit(img.Medium)...)
		}

		cmd, err := flashCommand(img, nil, sizeOf, t, ip)
		if err != nil {
			return nil, err
		}
		plan = append(plan, cmd)
	}

	plan = append(plan, rebootCommand(t, ip))
	return plan, nil
}

// Runner executes a fastboot command and reports its combined output, so
// tests can substitute a fake without shelling out.
type Runner func(ctx context.Context, args []string) (output string, err error)

// ExecRunner shells out to the real `fastboot` binary via sudo, matching
// the original's `sudo fastboot ...` invocation.
func ExecRunner(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, "sudo", append([]string{"fastboot"}, args...)...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

// Run executes every command in plan in order, retrying each one up to
// maxCommandRetries times until its output contains "Finished." (fastboot's
// own success marker), matching the original's idempotent-ACK retry loop.
// A command carrying a per-partition Timeout (every flash command; the
// trailing reboot has none) bounds each individual attempt.
func Run(ctx context.Context, plan []Command, run Runner) error {
	for _, cmd := range plan {
		cmd := cmd
		err := retry.Do(ctx, maxCommandRetries, 0, 0, func(attempt int) error {
			attemptCtx := ctx
			if cmd.Timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
				defer cancel()
			}
			output, runErr := run(attemptCtx, cmd.Args)
			if runErr != nil {
				return fmt.Errorf("fastboot %v: %w: %w", cmd.Args, runErr, boarderr.ErrTransport)
			}
			if !containsFinished(output) {
				return fmt.Errorf("fastboot %v: no \"Finished.\" marker in output: %w", cmd.Args, boarderr.ErrProtocol)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func containsFinished(output string) bool {
	return bytes.Contains([]byte(output), []byte("Finished."))
}

// FileSize is the default sizeOf implementation used outside tests.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
