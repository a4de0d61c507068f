package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/carizon/boardprov/internal/relay"
)

func runReboot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reboot", flag.ExitOnError)
	action := fs.String("a", "reboot", "action: on, off, or reboot")
	port := fs.Int("p", 0, "relay port (defaults to the configured relay port)")
	relayType := fs.String("t", "", "relay type: default, zqwl, or corx (defaults to config)")
	level := fs.String("l", "info", "log level")
	configDir := fs.String("C", "", "config manifest directory")
	force := fs.Bool("y", false, "skip interactive confirmation for a non-owned port")
	fs.Parse(args)

	if _, err := newLogger(*level); err != nil {
		return err
	}

	manifest, err := loadConfig(*configDir)
	if err != nil {
		return err
	}

	rt := *relayType
	if rt == "" {
		rt = manifest.Connect.Relay.Type
	}
	p := *port
	if p == 0 {
		p = manifest.Connect.Relay.Port
	}

	backend, err := relay.NewBackend(rt, manifest.Connect.Relay.IP)
	if err != nil {
		return err
	}

	confirm := relay.InteractiveConfirm
	if *force {
		confirm = relay.AlwaysConfirm
	}

	lockAddr := manifest.Connect.Lock.Addr
	if lockAddr == "" {
		lockAddr = "127.0.0.1:6379"
	}
	r := relay.New(backend, relay.NewRedisLock(lockAddr), manifest.Connect.Relay.Port, confirm)

	switch *action {
	case "on":
		return r.On(ctx, p)
	case "off":
		return r.Off(ctx, p)
	case "reboot":
		return r.Reboot(ctx, p)
	default:
		return fmt.Errorf("reboot: unknown action %q", *action)
	}
}
