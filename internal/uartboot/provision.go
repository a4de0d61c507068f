package uartboot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/carizon/boardprov/config"
	"github.com/carizon/boardprov/internal/fetch"
)

// PrepareMCUPackage ensures every non-SoC step image already exists in
// scratchDir, downloading and extracting the board's MCU SDK zip if not,
// matching __prepare_mcu_package: the zip's IMG/SBL.img and
// BIN/J6_MCU_DEBUG.bin are renamed to scratchDir root, and every file in
// the board's configured firmware directory is copied in alongside them.
func PrepareMCUPackage(ctx context.Context, client *http.Client, board config.BoardConfig, steps []Step, scratchDir string) error {
	missing := false
	for _, step := range steps {
		if step.Port == "soc" {
			continue
		}
		if _, err := os.Stat(filepath.Join(scratchDir, step.Path)); err != nil {
			missing = true
			break
		}
	}
	if !missing {
		return nil
	}

	url, ok := board.MCUPackageFor(board.Device)
	if !ok {
		return fmt.Errorf("uartboot: no mcu package configured for device %q", board.Device)
	}

	info, err := fetch.ResolveLatest(ctx, client, url)
	if err != nil {
		return fmt.Errorf("uartboot: resolve mcu package: %w", err)
	}

	archivePath, err := fetch.DownloadAndVerify(ctx, client, info, scratchDir)
	if err != nil {
		return fmt.Errorf("uartboot: download mcu package: %w", err)
	}

	extractDir := filepath.Join(scratchDir, "mcu_package_extract")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return err
	}
	if err := fetch.ExtractZip(archivePath, extractDir); err != nil {
		return fmt.Errorf("uartboot: extract mcu package: %w", err)
	}

	renames := map[string]string{
		"IMG/SBL.img":          "SBL.img",
		"BIN/J6_MCU_DEBUG.bin": "J6_MCU_DEBUG.bin",
	}
	for src, dst := range renames {
		if err := copyFile(filepath.Join(extractDir, src), filepath.Join(scratchDir, dst)); err != nil {
			return fmt.Errorf("uartboot: stage %s: %w", src, err)
		}
	}

	if board.MCUFirmwareDir != "" {
		if err := copyDirFiles(board.MCUFirmwareDir, scratchDir); err != nil {
			return fmt.Errorf("uartboot: copy mcu firmware dir: %w", err)
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func copyDirFiles(srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(srcDir, e.Name()), filepath.Join(dstDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
