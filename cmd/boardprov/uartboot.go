package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/carizon/boardprov/config"
	"github.com/carizon/boardprov/internal/relay"
	"github.com/carizon/boardprov/internal/securedebug"
	"github.com/carizon/boardprov/internal/serialio"
	"github.com/carizon/boardprov/internal/uartboot"
)

func runUartboot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("uartboot", flag.ExitOnError)
	link := fs.String("u", "", "artifact link")
	board := fs.String("b", "", "board name")
	strategy := fs.String("t", string(uartboot.StrategyMCUGotoUART), "entry strategy")
	keyFile := fs.String("key-file", "", "PEM-encoded ECDSA P-256 private key, for locked-MCU recovery")
	certFile := fs.String("cert-file", "", "PEM-encoded X.509 certificate, for locked-MCU recovery")
	level := fs.String("l", "info", "log level")
	configDir := fs.String("C", "", "config manifest directory")
	fs.Parse(args)

	log, err := newLogger(*level)
	if err != nil {
		return err
	}

	manifest, err := loadConfig(*configDir)
	if err != nil {
		return err
	}

	soc, err := serialio.Open(manifest.Connect.SoC.Device, manifest.Connect.SoC.Baud)
	if err != nil {
		return err
	}
	defer soc.Close()
	mcu, err := serialio.Open(manifest.Connect.MCU.Device, manifest.Connect.MCU.Baud)
	if err != nil {
		return err
	}
	defer mcu.Close()
	hsm, err := serialio.Open(manifest.Connect.HSM.Device, manifest.Connect.HSM.Baud)
	if err != nil {
		return err
	}
	defer hsm.Close()

	ports := uartboot.Ports{SoC: soc, MCU: mcu, HSM: hsm}

	switch uartboot.Strategy(*strategy) {
	case uartboot.StrategyMCUReboot:
		backend, err := relay.NewBackend(manifest.Connect.Relay.Type, manifest.Connect.Relay.IP)
		if err != nil {
			return err
		}
		lockAddr := manifest.Connect.Lock.Addr
		if lockAddr == "" {
			lockAddr = "127.0.0.1:6379"
		}
		r := relay.New(backend, relay.NewRedisLock(lockAddr), manifest.Connect.Relay.Port, relay.AlwaysConfirm)
		if err := uartboot.EnterByMCUReboot(ctx, r, manifest.Connect.Relay.Port, mcu); err != nil {
			return err
		}
	case uartboot.StrategyManualOperation:
		if err := uartboot.EnterByManualOperation(ctx, mcu); err != nil {
			return err
		}
	default:
		unlock := func(ctx context.Context) error {
			if *keyFile == "" || *certFile == "" {
				return fmt.Errorf("uartboot: locked MCU recovery requires -key-file and -cert-file")
			}
			key, err := loadECDSAKey(*keyFile)
			if err != nil {
				return err
			}
			certPEM, err := os.ReadFile(*certFile)
			if err != nil {
				return fmt.Errorf("uartboot: read cert file: %w", err)
			}
			der, err := securedebug.LoadCertificatePEM(certPEM)
			if err != nil {
				return err
			}
			ok, err := securedebug.NewSession(mcu).Unlock(der, key)
			if err != nil {
				return fmt.Errorf("uartboot: secure-debug unlock: %w", err)
			}
			if !ok {
				return fmt.Errorf("uartboot: MCU did not confirm signature verification")
			}
			return nil
		}
		if err := uartboot.EnterByMCUGotoUART(ctx, mcu, unlock); err != nil {
			return err
		}
	}

	os.MkdirAll(scratchDir, 0o755)
	client := &http.Client{}
	steps := flattenSteps(manifest.UART.LoadingSteps[manifest.Board.UARTBootMethod])
	if err := uartboot.PrepareMCUPackage(ctx, client, manifest.Board, steps, scratchDir); err != nil {
		return err
	}

	if err := uartboot.RunSteps(ctx, ports, steps, func(total, sent, errs int) {
		log.Debug("xmodem progress", "board", *board, "sent", sent, "total", total, "errors", errs)
	}); err != nil {
		return err
	}

	log.Info("uart bootstrap complete", "link", *link)
	return nil
}

// flattenSteps expands uart_boot.json's {uart_port, img_data} entries into
// one uartboot.Step per image, preserving list order, matching how
// __host_run_uartboot iterates loading_step.
func flattenSteps(steps []config.LoadingStep) []uartboot.Step {
	var out []uartboot.Step
	for _, s := range steps {
		for _, image := range s.Images {
			out = append(out, uartboot.Step{Port: s.UARTPort, Path: image})
		}
	}
	return out
}
