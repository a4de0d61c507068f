package uartboot

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/carizon/boardprov/internal/boarderr"
	"github.com/carizon/boardprov/internal/relay"
	"github.com/carizon/boardprov/internal/serialio"
)

var ccRe = regexp.MustCompile(`CCC`)

// Unlocker performs the secure-debug unlock subroutine when the MCU reports
// "UART locked", matching __execute_secure_debug_unlock's fallback into the
// secure-debug flow.
type Unlocker func(ctx context.Context) error

// EnterByMCUGotoUART implements the "mcu goto uart" strategy: up to 3
// attempts, each sending "mcu_goto_uart\n" plus 16 blank lines 3 times,
// checking for "CCC" success or a "UART locked" response that triggers
// Unlocker before a 3s settle and retry.
func EnterByMCUGotoUART(ctx context.Context, mcu serialio.Port, unlock Unlocker) error {
	blank := make([]byte, 0, 17)
	for i := 0; i < 16; i++ {
		blank = append(blank, '\n')
	}

	for attempt := 0; attempt < 3; attempt++ {
		for try := 0; try < 3; try++ {
			mcu.Write([]byte("mcu_goto_uart\n"))
			mcu.Write(blank)

			buf := make([]byte, 1024)
			n, err := serialio.ReadWithTimeout(mcu, buf, 1*time.Second)
			if err != nil {
				continue
			}
			text := string(buf[:n])
			if ccRe.MatchString(text) {
				return nil
			}
			if strings.Contains(text, "UART locked") {
				if err := unlock(ctx); err != nil {
					return fmt.Errorf("uartboot: secure-debug unlock: %w", err)
				}
			}
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("uartboot: mcu goto uart: no CCC after 3 attempts: %w", boarderr.ErrProtocol)
}

// EnterByMCUReboot implements the "mcu reboot" strategy: power-reboot the
// board, then up to 8 attempts of 'mcureboot\nmcureset' plus 16 blank
// lines, checking for "CCC".
func EnterByMCUReboot(ctx context.Context, r *relay.Relay, port int, mcu serialio.Port) error {
	if err := r.Reboot(ctx, port); err != nil {
		return fmt.Errorf("uartboot: power reboot: %w", err)
	}

	for attempt := 0; attempt < 8; attempt++ {
		mcu.Write([]byte("mcureboot\nmcureset"))
		for i := 0; i < 16; i++ {
			mcu.Write([]byte("\n"))
		}

		buf := make([]byte, 1024)
		n, err := serialio.ReadWithTimeout(mcu, buf, 1*time.Second)
		if err == nil && ccRe.MatchString(string(buf[:n])) {
			return nil
		}
	}
	return fmt.Errorf("uartboot: mcu reboot: no CCC after 8 attempts: %w", boarderr.ErrProtocol)
}

// EnterByManualOperation implements the "manual operation" strategy:
// checks uart mode first (the operator may have already entered it by
// hand), otherwise passively waits for "CCC" with no sends of its own.
func EnterByManualOperation(ctx context.Context, mcu serialio.Port) error {
	if checkUARTMode(mcu) {
		return nil
	}

	deadline := time.Now().Add(60 * time.Second)
	buf := make([]byte, 1024)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := serialio.ReadWithTimeout(mcu, buf, 1*time.Second)
		if err == nil && n > 0 && ccRe.MatchString(string(buf[:n])) {
			return nil
		}
	}
	return fmt.Errorf("uartboot: manual operation: no CCC observed: %w", boarderr.ErrProtocol)
}
