// Package config loads the board-specific JSON manifests that drive every
// subcommand: which serial ports to open, which relay fronts the board's
// power rail, where the artifact repository lives, and which console
// prompts mark each state-machine state.
//
// Unlike the upstream bindicator firmware, which bakes its configuration in
// at compile time via go:embed, this tool's configuration is chosen per-CI-job
// at runtime, so every value here is read from disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SerialEndpoint names one physical serial connection.
type SerialEndpoint struct {
	Name   string `json:"name"`
	Device string `json:"device"`
	Baud   int    `json:"baud"`
}

// ConnectParam is connect_param.json: how to reach every transport the
// toolkit drives (the three UART endpoints, the relay, and SSH for the
// `.deb` installer).
type ConnectParam struct {
	SoC SerialEndpoint `json:"soc"`
	MCU SerialEndpoint `json:"mcu"`
	HSM SerialEndpoint `json:"hsm"`

	Relay struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
		Type string `json:"type"`
	} `json:"relay"`

	SSH struct {
		SoC SSHTarget `json:"soc"`
	} `json:"ssh"`

	Lock struct {
		Addr string `json:"addr"`
	} `json:"lock"`

	TargetIPAddr string `json:"target_ipaddr"`
}

// SSHTarget is the host the `.deb` installer pushes packages to.
type SSHTarget struct {
	Name string `json:"name"`
	User string `json:"user"`
	Addr string `json:"addr"`
	Port int    `json:"port"`
}

// MCUPackageEntry maps a device name to the MCU SDK zip that provisions it.
// Modeled as an ordered list, not a map, so that a later duplicate entry
// shadows an earlier one (MCUPackageFor scans the whole list and keeps the
// last match).
type MCUPackageEntry struct {
	Device string `json:"device"`
	URL    string `json:"url"`
}

// SDKEntry maps a device name to its target SDK version, used to resolve
// the artifact-repo manifest for the SoC image set.
type SDKEntry struct {
	Device string `json:"device"`
	SDK    int    `json:"sdk"`
}

// BoardConfig is board.json: static facts about a board model.
type BoardConfig struct {
	Device         string            `json:"device"`
	UARTBootMethod string            `json:"uart_boot_method"`
	MCUFirmwareDir string            `json:"mcu_firmware_dir"`
	SDKVersions    []SDKEntry        `json:"sdk_versions"`
	MCUPackages    []MCUPackageEntry `json:"mcu_packages"`
}

// DeviceConfig is device.json: the emmc partition numbering table consumed
// by the fastboot flasher's host-side bootstrap command synthesis.
type DeviceConfig struct {
	EMMC map[string]EMMCEntry `json:"emmc"`
}

// EMMCEntry describes one emmc device node (uda, boot0, boot1, ...).
type EMMCEntry struct {
	PartNum int  `json:"part_num"`
	HasGPT  bool `json:"has_gpt"`
}

// UARTBootConfig is uart_boot.json: the ordered loading-step list for every
// uart_boot_method name a board.json can reference.
type UARTBootConfig struct {
	LoadingSteps map[string][]LoadingStep `json:"loading_steps"`
}

// LoadingStep is one entry of a loading_step list: the serial port an image
// set is pushed over and the ordered image file names to send on it,
// matching original_source/commandset/uartboot.py's {"uart_port", "img_data"}
// dicts.
type LoadingStep struct {
	UARTPort string   `json:"uart_port"`
	Images   []string `json:"img_data"`
}

// StatePrompts is state.json: the regex prompts and timeouts (in seconds)
// that drive the state machine's power_off/uboot/kernel_normal/kernel_recovery
// detection.
type StatePrompts struct {
	Prompts map[string]string `json:"prompts"`
	Timeout map[string]int    `json:"timeout_seconds"`
}

// Manifest bundles every on-disk config file loaded for one invocation.
type Manifest struct {
	Connect ConnectParam
	Board   BoardConfig
	Device  DeviceConfig
	UART    UARTBootConfig
	State   StatePrompts
}

// Load reads all five JSON manifests from dir. A missing state.json is not
// an error: callers that never touch the state machine (e.g. `mcu_util`)
// don't need it, and State is left zero-valued.
func Load(dir string) (*Manifest, error) {
	m := &Manifest{}

	if err := readJSON(filepath.Join(dir, "connect_param.json"), &m.Connect); err != nil {
		return nil, fmt.Errorf("config: connect_param.json: %w", err)
	}
	if err := readJSON(filepath.Join(dir, "board.json"), &m.Board); err != nil {
		return nil, fmt.Errorf("config: board.json: %w", err)
	}
	if err := readJSON(filepath.Join(dir, "device.json"), &m.Device); err != nil {
		return nil, fmt.Errorf("config: device.json: %w", err)
	}
	if err := readJSON(filepath.Join(dir, "uart_boot.json"), &m.UART); err != nil {
		return nil, fmt.Errorf("config: uart_boot.json: %w", err)
	}
	if err := readJSON(filepath.Join(dir, "state.json"), &m.State); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: state.json: %w", err)
	}

	return m, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// SDKFor resolves the target SDK version for device, defaulting to 930 to
// match the original tool's fallback when a device has no explicit entry.
func (b BoardConfig) SDKFor(device string) int {
	for _, e := range b.SDKVersions {
		if e.Device == device {
			return e.SDK
		}
	}
	return 930
}

// MCUPackageFor resolves the MCU SDK zip URL for device, scanning in order
// so a later duplicate entry in the manifest wins.
func (b BoardConfig) MCUPackageFor(device string) (string, bool) {
	url := ""
	found := false
	for _, e := range b.MCUPackages {
		if e.Device == device {
			url = e.URL
			found = true
		}
	}
	return url, found
}
