// Package uartboot drives the three-port (SoC/MCU/HSM) UART bootstrap
// sequence: get each target into XMODEM-ready "C" mode, push the boot
// images over XMODEM-1K in a fixed step order, and detect the SoC's
// resulting u-boot prompt and fastboot-over-UDP IP address.
//
// Grounded on original_source/commandset/uartboot.py's Uartboot class.
package uartboot

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/carizon/boardprov/internal/boarderr"
	"github.com/carizon/boardprov/internal/serialio"
	"github.com/carizon/boardprov/internal/xmodem"
)

// Strategy names the method used to coax the MCU into UART-recovery mode.
type Strategy string

const (
	StrategyMCUGotoUART        Strategy = "mcu goto uart"
	StrategyMCUReboot          Strategy = "mcu reboot"
	StrategyManualOperation    Strategy = "manual operation"
)

// Step is one ordered image load: which port to push it over and the local
// path of the image file.
type Step struct {
	Port string // "soc", "mcu", or "hsm"
	Path string
}

// Ports bundles the three open serial endpoints the loader drives.
type Ports struct {
	SoC serialio.Port
	MCU serialio.Port
	HSM serialio.Port
}

func (p Ports) byName(name string) (serialio.Port, error) {
	switch name {
	case "soc":
		return p.SoC, nil
	case "mcu":
		return p.MCU, nil
	case "hsm":
		return p.HSM, nil
	default:
		return nil, fmt.Errorf("uartboot: unknown port %q: %w", name, boarderr.ErrConfig)
	}
}

// checkUARTMode sends up to 5 newlines looking for two consecutive 'C'
// responses (CRC-mode handshake) or a shell-mode prompt, matching
// __check_uart_mode. It returns true if the port is ready for XMODEM.
func checkUARTMode(p serialio.Port) bool {
	shellPrompts := []string{"horizon:/", "#", "root@"}
	consecutiveC := 0

	for i := 0; i < 5; i++ {
		p.Write([]byte("\n"))
		buf := make([]byte, 256)
		n, err := serialio.ReadWithTimeout(p, buf, 500*time.Millisecond)
		if err != nil || n == 0 {
			continue
		}
		text := string(buf[:n])

		for _, c := range text {
			if c == 'C' {
				consecutiveC++
				if consecutiveC >= 2 {
					return true
				}
			} else {
				consecutiveC = 0
			}
		}
		for _, prompt := range shellPrompts {
			if strings.Contains(text, prompt) {
				return false
			}
		}
	}
	return false
}

// AwaitReady polls port for the XMODEM 'C' readiness signal, using the
// per-port discipline uartboot.py uses: SoC is passive (it alone drives
// the 'C' train once it reaches its loader stage), MCU/HSM are active
// (send a newline every 200ms). On every port a "Please enter 1 or 0"
// menu prompt is answered by writing a raw "0" with no newline.
func AwaitReady(ctx context.Context, port serialio.Port, role string) error {
	active := role != "soc"
	timeout := 15 * time.Second
	if !active {
		timeout = 10 * time.Second
	}
	needConsecutive := 2
	if !active {
		needConsecutive = 1
	}

	deadline := time.Now().Add(timeout)
	consecutiveC := 0
	buf := make([]byte, 256)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if active {
			port.Write([]byte("\n"))
		}

		n, err := serialio.ReadWithTimeout(port, buf, 200*time.Millisecond)
		if err != nil || n == 0 {
			continue
		}
		text := string(buf[:n])

		if strings.Contains(text, "Please enter 1 or 0") {
			time.Sleep(2 * time.Second)
			port.Write([]byte{'0'})
			continue
		}

		for _, c := range text {
			if c == 'C' {
				consecutiveC++
				if consecutiveC >= needConsecutive {
					return nil
				}
			} else {
				consecutiveC = 0
			}
		}
	}
	return fmt.Errorf("uartboot: timed out waiting for XMODEM ready on %s: %w", role, boarderr.ErrProtocol)
}

// LoadStep pushes one image over XMODEM-1K to the role's serial port, then
// drains trailing output for up to 1s once the transfer completes.
func LoadStep(ctx context.Context, port serialio.Port, role, imagePath string, progress xmodem.ProgressFunc) error {
	if err := AwaitReady(ctx, port, role); err != nil {
		return err
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("uartboot: read image %s: %w", imagePath, err)
	}

	if err := xmodem.Send(port, data, 10*time.Second, progress); err != nil {
		return fmt.Errorf("uartboot: xmodem send %s to %s: %w", imagePath, role, err)
	}

	drainBuf := make([]byte, 1024)
	serialio.ReadWithTimeout(port, drainBuf, 1*time.Second)
	return nil
}

var fastbootIPRe = regexp.MustCompile(`Listening for fastboot command on (\d+\.\d+\.\d+\.\d+)`)

// AwaitFastbootUDP polls the SoC console, sending "fastboot udp\n" once the
// u-boot prompt is seen, then extracts the board's announced fastboot-UDP
// IP address, matching the end of __host_run_uartboot.
func AwaitFastbootUDP(ctx context.Context, soc serialio.Port, ubootPrompt *regexp.Regexp, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4096)

	seen := false
	for !seen && time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		soc.Write([]byte("\n"))
		n, err := serialio.ReadWithTimeout(soc, buf, 500*time.Millisecond)
		seen = err == nil && n > 0 && ubootPrompt.MatchString(string(buf[:n]))
	}
	if !seen {
		return "", fmt.Errorf("uartboot: timed out waiting for the u-boot prompt: %w", boarderr.ErrProtocol)
	}

	soc.Write([]byte("fastboot udp\n"))

	deadline = time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := serialio.ReadWithTimeout(soc, buf, 500*time.Millisecond)
		if err != nil || n == 0 {
			continue
		}
		if m := fastbootIPRe.FindStringSubmatch(string(buf[:n])); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("uartboot: timed out waiting for fastboot-udp announcement: %w", boarderr.ErrProtocol)
}

// RunSteps loads every step in order over its named port.
func RunSteps(ctx context.Context, ports Ports, steps []Step, progress xmodem.ProgressFunc) error {
	for _, step := range steps {
		port, err := ports.byName(step.Port)
		if err != nil {
			return err
		}
		if err := LoadStep(ctx, port, step.Port, step.Path, progress); err != nil {
			return err
		}
	}
	return nil
}
