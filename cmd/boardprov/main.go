// Command boardprov brings a board from cold power-on to a known firmware
// state for CI testing: power control, secure-debug unlock, UART
// bootstrap, fastboot flashing, and `.deb` package installation.
//
// Adapted from the teacher's cmd/cli/main.go: flag-based dispatch, .env
// loading, and context-cancellation-on-Ctrl-C are kept; the telnet/console
// protocol they drove is replaced with this tool's five subcommands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/carizon/boardprov/config"
	"github.com/carizon/boardprov/internal/logging"
	"github.com/carizon/boardprov/version"
)

const defaultConfigDir = "."

func main() {
	loadEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	sub := os.Args[1]
	args := os.Args[2:]

	if sub == "-version" || sub == "--version" || sub == "version" {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch sub {
	case "reboot":
		err = runReboot(ctx, args)
	case "fastboot":
		err = runFastboot(ctx, args)
	case "uartboot":
		err = runUartboot(ctx, args)
	case "mcu_util":
		err = runMCUUtil(ctx, args)
	case "deb":
		err = runDeb(ctx, args)
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "boardprov %s: %v\n", sub, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("boardprov - board provisioning toolkit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  boardprov reboot    -a {on,off,reboot} -p <port> -t <relay-type> [-y]")
	fmt.Println("  boardprov fastboot  -t {usb,eth} -u <link> -d <host> -m {soc,mcu}")
	fmt.Println("  boardprov uartboot  -u <link> -b <board> [-t <strategy>] [-key-file <path> -cert-file <path>]")
	fmt.Println("  boardprov mcu_util  -u --key-file <path> --cert-file <path>")
	fmt.Println("  boardprov deb       -p <package> -f <platform> -a {arm64,amd64}")
	fmt.Println("  boardprov version")
	fmt.Println()
	fmt.Println("Every subcommand accepts -l <level> (debug|info|warn|error) and -C <config-dir>.")
}

// loadConfig reads the manifest directory common to every subcommand,
// defaulting to the current directory.
func loadConfig(dir string) (*config.Manifest, error) {
	if dir == "" {
		dir = defaultConfigDir
	}
	return config.Load(dir)
}

func newLogger(level string) (*slog.Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logging.New(os.Stderr, lvl), nil
}

// loadEnvFile loads environment variables from .env in the current
// directory, matching the teacher's cmd/cli/main.go loadEnvFile: existing
// environment variables always win, quoted values are unquoted.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
