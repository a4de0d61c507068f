package uartboot

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/carizon/boardprov/config"
)

func TestPrepareMCUPackageSkipsWhenAlreadyStaged(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mcu_image.bin"), []byte("staged"), 0o644); err != nil {
		t.Fatalf("stage file: %v", err)
	}

	steps := []Step{
		{Port: "soc", Path: "kernel.img"}, // soc steps are never staged locally
		{Port: "mcu", Path: "mcu_image.bin"},
	}

	// board.MCUPackageFor would fail if called, since no package is
	// configured; this asserts PrepareMCUPackage never reaches that call
	// when every non-soc step image already exists.
	board := config.BoardConfig{Device: "boardA"}
	if err := PrepareMCUPackage(context.Background(), &http.Client{}, board, steps, dir); err != nil {
		t.Fatalf("PrepareMCUPackage: %v", err)
	}
}
