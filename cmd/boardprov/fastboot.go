package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/carizon/boardprov/internal/fastboot"
	"github.com/carizon/boardprov/internal/fetch"
)

const scratchDir = "/tmp/img_packages"

// mediumDeviceKey maps an OTA manifest medium name to the device.json emmc
// entry that carries its partconf numbering. "nor" has no entry: MCU
// flashing only ever reinitializes the NOR interface, never partconf.
var mediumDeviceKey = map[string]string{
	"emmc":       "uda",
	"emmc_boot0": "boot0",
	"emmc_boot1": "boot1",
}

func runFastboot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fastboot", flag.ExitOnError)
	transport := fs.String("t", "usb", "transport: usb or eth")
	link := fs.String("u", "", "artifact link or \"latest\"")
	host := fs.String("d", "", "host manifest name")
	module := fs.String("m", "soc", "module: soc or mcu")
	level := fs.String("l", "info", "log level")
	configDir := fs.String("C", "", "config manifest directory")
	fs.Parse(args)

	log, err := newLogger(*level)
	if err != nil {
		return err
	}

	manifestCfg, err := loadConfig(*configDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return err
	}

	client := &http.Client{}

	var archivePath string
	if *link != "" && *link != "latest" {
		info, err := fetch.ResolveLatest(ctx, client, *link)
		if err != nil {
			return err
		}
		archivePath, err = fetch.DownloadAndVerify(ctx, client, info, scratchDir)
		if err != nil {
			return err
		}
		if err := fetch.ExtractZip(archivePath, scratchDir); err != nil {
			return err
		}
	}
	log.Info("package staged", "path", archivePath, "module", *module)

	data, err := loadOTAManifest(scratchDir, *host)
	if err != nil {
		return err
	}

	images := fastboot.WithSyntheticGPT(*host, fastboot.FlattenImages(data, scratchDir))

	t := fastboot.TransportUSB
	if *transport == "eth" {
		t = fastboot.TransportEth
	}

	emmc := manifestCfg.Device.EMMC
	mediumInit := func(medium string) []fastboot.Command {
		partNum := 0
		if key, ok := mediumDeviceKey[medium]; ok {
			partNum = emmc[key].PartNum
		}
		return fastboot.MediumInitCommands(medium, 0, partNum, t, manifestCfg.Connect.TargetIPAddr)
	}

	plan, err := fastboot.BuildPlan(images, mediumInit, fastboot.FileSize, t, manifestCfg.Connect.TargetIPAddr)
	if err != nil {
		return err
	}

	log.Info("flash plan built", "steps", len(plan))
	return fastboot.Run(ctx, plan, fastboot.ExecRunner)
}

// loadOTAManifest selects and parses the OTA data manifest for host out of
// every *.json candidate staged in scratchDir, preferring the highest LTS
// version, matching fastboot.py's __get_data_json.
func loadOTAManifest(scratchDir, host string) (fastboot.Manifest, error) {
	matches, err := filepath.Glob(filepath.Join(scratchDir, "*.json"))
	if err != nil {
		return fastboot.Manifest{}, fmt.Errorf("fastboot: list manifest candidates: %w", err)
	}

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}

	chosen, err := fastboot.SelectManifestFile(names, host)
	if err != nil {
		return fastboot.Manifest{}, err
	}

	raw, err := os.ReadFile(filepath.Join(scratchDir, chosen))
	if err != nil {
		return fastboot.Manifest{}, fmt.Errorf("fastboot: read manifest %s: %w", chosen, err)
	}

	var data fastboot.Manifest
	if err := json.Unmarshal(raw, &data); err != nil {
		return fastboot.Manifest{}, fmt.Errorf("fastboot: parse manifest %s: %w", chosen, err)
	}
	return data, nil
}
