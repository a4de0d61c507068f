package fastboot

import (
	"fmt"
	"time"

	"github.com/carizon/boardprov/internal/boarderr"
)

// PartitionTimeout is how long a single `fastboot flash` of one partition is
// allowed to run, per transport.
type PartitionTimeout struct {
	Eth time.Duration
	USB time.Duration
}

// partitionFlashAttribute mirrors fastboot.py's hardcoded
// partition_flash_attribute dict: this is tool behavior, not board-specific
// config, so it stays a Go map literal rather than a JSON manifest.
var partitionFlashAttribute = map[string]PartitionTimeout{
	"gpt":          {Eth: 6 * time.Second, USB: 6 * time.Second},
	"uboot":        {Eth: 30 * time.Second, USB: 30 * time.Second},
	"boot_a":       {Eth: 60 * time.Second, USB: 90 * time.Second},
	"boot_b":       {Eth: 60 * time.Second, USB: 90 * time.Second},
	"system_a":     {Eth: 300 * time.Second, USB: 500 * time.Second},
	"system_b":     {Eth: 300 * time.Second, USB: 500 * time.Second},
	"vendor_a":     {Eth: 120 * time.Second, USB: 180 * time.Second},
	"vendor_b":     {Eth: 120 * time.Second, USB: 180 * time.Second},
	"recovery_a":   {Eth: 60 * time.Second, USB: 90 * time.Second},
	"recovery_b":   {Eth: 60 * time.Second, USB: 90 * time.Second},
	"userdata":     {Eth: 60 * time.Second, USB: 60 * time.Second},
	"cache":        {Eth: 30 * time.Second, USB: 30 * time.Second},
	"misc":         {Eth: 6 * time.Second, USB: 6 * time.Second},
	"app_param":    {Eth: 1000 * time.Second, USB: 50 * time.Second},
	"hsmfw_se":     {Eth: 30 * time.Second, USB: 30 * time.Second},
	"sbl":          {Eth: 20 * time.Second, USB: 20 * time.Second},
	"mcu_debug":    {Eth: 20 * time.Second, USB: 20 * time.Second},
	"persist":      {Eth: 30 * time.Second, USB: 30 * time.Second},
	"dtbo_a":       {Eth: 10 * time.Second, USB: 10 * time.Second},
	"dtbo_b":       {Eth: 10 * time.Second, USB: 10 * time.Second},
}

// TimeoutFor resolves the timeout for a partition/transport pair. A
// partition absent from partitionFlashAttribute is a hard error: the
// attribute table is the authority on which partitions this tool is allowed
// to flash, matching fastboot.py's KeyError on an unrecognized partition
// name rather than silently applying some default budget.
func TimeoutFor(partition string, transport Transport) (time.Duration, error) {
	attr, ok := partitionFlashAttribute[partition]
	if !ok {
		return 0, fmt.Errorf("fastboot: unknown partition %q: %w", partition, boarderr.ErrConfig)
	}
	if transport == TransportEth {
		return attr.Eth, nil
	}
	return attr.USB, nil
}
