package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/carizon/boardprov/internal/deb"
	"github.com/carizon/boardprov/internal/fetch"
	"github.com/carizon/boardprov/internal/relay"
	"github.com/carizon/boardprov/internal/serialio"
	"github.com/carizon/boardprov/internal/statemachine"
)

const debScratchDir = "/tmp"

// debPlatformRepos mirrors deb.py's hardcoded platform_urls map: which
// artifact-repo path serves runtime packages for each board platform.
var debPlatformRepos = map[string]string{
	"j6h": "https://jfrog.carizon.work/artifactory/api/storage/aarch64-bsp-j6h/pool/runtime-pkg",
	"j6m": "https://jfrog.carizon.work/artifactory/api/storage/aarch64-bsp/pool/runtime-pkg",
}

// runDeb downloads a `.deb` package from the artifact repository, drives the
// SoC into kernel_normal, then pushes and installs the package over SSH.
func runDeb(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deb", flag.ExitOnError)
	pkg := fs.String("p", "", "debian package name")
	platform := fs.String("f", "j6m", "debian platform: j6m/j6h")
	arch := fs.String("a", "arm64", "debian package arch: arm64/amd64")
	level := fs.String("l", "info", "log level")
	configDir := fs.String("C", "", "config manifest directory")
	fs.Parse(args)

	log, err := newLogger(*level)
	if err != nil {
		return err
	}
	if *pkg == "" {
		return fmt.Errorf("deb: -p <package> is required")
	}

	manifest, err := loadConfig(*configDir)
	if err != nil {
		return err
	}

	repoURL, ok := debPlatformRepos[strings.ToLower(*platform)]
	if !ok {
		return fmt.Errorf("deb: unknown platform %q", *platform)
	}

	destDir := filepath.Join(debScratchDir, *pkg)
	os.RemoveAll(destDir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	client := &http.Client{}
	info, err := fetch.ResolveDebPackage(ctx, client, repoURL, *pkg, *arch)
	if err != nil {
		return fmt.Errorf("deb: resolve %s:%s: %w", *pkg, *arch, err)
	}
	archivePath, err := fetch.DownloadAndVerify(ctx, client, info, destDir)
	if err != nil {
		return fmt.Errorf("deb: download %s:%s: %w", *pkg, *arch, err)
	}
	log.Info("package downloaded", "path", archivePath)

	soc, err := serialio.Open(manifest.Connect.SoC.Device, manifest.Connect.SoC.Baud)
	if err != nil {
		return err
	}
	defer soc.Close()

	prompts, err := statemachine.CompilePrompts(manifest.State.Prompts)
	if err != nil {
		return err
	}
	machine := statemachine.New(soc, prompts)

	enterNormal := func(ctx context.Context, m *statemachine.Machine) error {
		backend, err := relay.NewBackend(manifest.Connect.Relay.Type, manifest.Connect.Relay.IP)
		if err != nil {
			return err
		}
		lockAddr := manifest.Connect.Lock.Addr
		if lockAddr == "" {
			lockAddr = "127.0.0.1:6379"
		}
		r := relay.New(backend, relay.NewRedisLock(lockAddr), manifest.Connect.Relay.Port, relay.AlwaysConfirm)
		return r.Reboot(ctx, manifest.Connect.Relay.Port)
	}

	if err := machine.EntryKernel(ctx, "normal", enterNormal, 120*time.Second); err != nil {
		return fmt.Errorf("deb: failed to reach kernel_normal: %w", err)
	}

	target := manifest.Connect.SSH.SoC
	if err := deb.Push(ctx, archivePath, target); err != nil {
		return err
	}
	if err := deb.Install(ctx, filepath.Base(archivePath), target); err != nil {
		return err
	}

	log.Info("deb package installed", "package", *pkg, "platform", *platform, "arch", *arch)
	return nil
}
