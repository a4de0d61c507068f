package fastboot

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func fixedSize(size int64) func(string) (int64, error) {
	return func(string) (int64, error) {
		return size, nil
	}
}

func TestPlanAddsSparseFlagAboveThreshold(t *testing.T) {
	images := []Image{{Path: "boot.img", Partition: "boot_a"}}
	noGPT := func(string) bool { return false }

	plan, err := Plan(images, noGPT, fixedSize(sparseThreshold+1), TransportUSB, "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !containsArg(plan[0].Args, "-S") {
		t.Fatalf("args %v should contain -S for a file above the sparse threshold", plan[0].Args)
	}
}

func TestPlanOmitsSparseFlagAtThreshold(t *testing.T) {
	images := []Image{{Path: "boot.img", Partition: "boot_a"}}
	noGPT := func(string) bool { return false }

	plan, err := Plan(images, noGPT, fixedSize(sparseThreshold), TransportUSB, "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if containsArg(plan[0].Args, "-S") {
		t.Fatalf("args %v should not contain -S at exactly the threshold", plan[0].Args)
	}
}

func TestPlanUsesPartitionZeroWithoutGPT(t *testing.T) {
	images := []Image{{Path: "boot.img", Partition: "boot_a"}}
	noGPT := func(string) bool { return false }

	plan, err := Plan(images, noGPT, fixedSize(100), TransportUSB, "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !containsArg(plan[0].Args, "0") {
		t.Fatalf("args %v should target partition 0 without GPT", plan[0].Args)
	}
}

func TestPlanEthAddsUDPTransportFlag(t *testing.T) {
	images := []Image{{Path: "boot.img", Partition: "boot_a"}}
	noGPT := func(string) bool { return false }

	plan, err := Plan(images, noGPT, fixedSize(100), TransportEth, "10.0.0.5")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !containsArg(plan[0].Args, "udp:10.0.0.5:5554") {
		t.Fatalf("args %v should carry the eth transport target", plan[0].Args)
	}
}

func TestPlanAppendsTrailingReboot(t *testing.T) {
	images := []Image{{Path: "boot.img", Partition: "boot_a"}}
	noGPT := func(string) bool { return false }

	plan, err := Plan(images, noGPT, fixedSize(100), TransportUSB, "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	last := plan[len(plan)-1]
	if !containsArg(last.Args, "reboot") {
		t.Fatalf("last command %v should be reboot", last.Args)
	}
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestRunRetriesUntilFinishedMarker(t *testing.T) {
	calls := 0
	run := func(ctx context.Context, args []string) (string, error) {
		calls++
		if calls < 2 {
			return "still flashing", nil
		}
		return "Finished. total time: 1.2s", nil
	}

	plan := []Command{{Args: []string{"flash", "boot", "boot.img"}}}
	if err := Run(context.Background(), plan, run); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRunFailsAfterMaxRetries(t *testing.T) {
	calls := 0
	run := func(ctx context.Context, args []string) (string, error) {
		calls++
		return "", errors.New("no device")
	}

	plan := []Command{{Args: []string{"flash", "boot", "boot.img"}}}
	if err := Run(context.Background(), plan, run); err == nil {
		t.Fatal("expected Run to fail after exhausting retries")
	}
	if calls != maxCommandRetries {
		t.Fatalf("calls = %d, want %d", calls, maxCommandRetries)
	}
}

func TestSelectManifestFilePrefersHighestLTSVersion(t *testing.T) {
	candidates := []string{
		"data_boardA_V1.2.json",
		"data_boardA_V2.5.json",
		"data_boardA_V2.10.json",
		"unrelated.json",
	}
	got, err := SelectManifestFile(candidates, "boardA")
	if err != nil {
		t.Fatalf("SelectManifestFile: %v", err)
	}
	if !strings.Contains(got, "V2.10") {
		t.Fatalf("got %q, want the highest (major,minor) LTS version (V2.10 > V2.5)", got)
	}
}

func TestSelectManifestFileFallsBackToPlain(t *testing.T) {
	candidates := []string{"data_boardB_latest.json"}
	got, err := SelectManifestFile(candidates, "boardB")
	if err != nil {
		t.Fatalf("SelectManifestFile: %v", err)
	}
	if got != "data_boardB_latest.json" {
		t.Fatalf("got %q, want the plain candidate", got)
	}
}

func TestSelectManifestFileErrorsWhenNoneMatch(t *testing.T) {
	if _, err := SelectManifestFile([]string{"data_other_V1.0.json"}, "boardC"); err == nil {
		t.Fatal("expected an error when no candidate matches the host")
	}
}

func TestWithSyntheticGPTPrependsTwoImages(t *testing.T) {
	images := []Image{{Path: "kernel.img", Partition: "boot"}}
	out := WithSyntheticGPT("hostA", images)
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if out[0].Partition != "gpt" || out[1].Partition != "gpt" {
		t.Fatalf("synthetic entries should target the gpt partition: %+v", out[:2])
	}
	if out[2].Path != "kernel.img" {
		t.Fatalf("real images should follow the synthetic GPT entries")
	}
}

func TestFlattenImagesOrdersByNameThenMediumThenPartInfo(t *testing.T) {
	manifest := Manifest{Images: map[string]ManifestImage{
		"system_a.img": {Storages: map[string]StorageTarget{
			"emmc": {PartInfo: []string{"system_a"}},
		}},
		"boot_a.img": {Storages: map[string]StorageTarget{
			"emmc":      {PartInfo: []string{"boot_a"}},
			"emmc_boot1": {PartInfo: []string{"mcu_debug"}},
		}},
	}}

	got := FlattenImages(manifest, "/scratch")
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3: %+v", len(got), got)
	}
	// boot_a.img sorts before system_a.img; within boot_a.img, mediumOrder
	// visits emmc before emmc_boot1.
	if got[0].Partition != "boot_a" || got[0].Medium != "emmc" || !got[0].HasGPT {
		t.Fatalf("got[0] = %+v", got[0])
	}
	if got[1].Partition != "mcu_debug" || got[1].Medium != "emmc_boot1" || got[1].HasGPT {
		t.Fatalf("got[1] = %+v, want emmc_boot1 (no GPT on boot1)", got[1])
	}
	if got[2].Partition != "system_a" || got[2].Path != "/scratch/system_a.img" {
		t.Fatalf("got[2] = %+v", got[2])
	}
}

func TestFlattenImagesSkipsUnknownMedium(t *testing.T) {
	manifest := Manifest{Images: map[string]ManifestImage{
		"weird.img": {Storages: map[string]StorageTarget{
			"sdcard": {PartInfo: []string{"whatever"}},
		}},
	}}
	if got := FlattenImages(manifest, "/scratch"); len(got) != 0 {
		t.Fatalf("got %+v, want no flash targets for an unrecognized medium", got)
	}
}

func TestMediumInitCommandsEMMCEmitsInterfaceBootdeviceAndPartconf(t *testing.T) {
	cmds := MediumInitCommands("emmc_boot1", 0, 2, TransportUSB, "")
	if len(cmds) != 3 {
		t.Fatalf("len(cmds) = %d, want 3", len(cmds))
	}
	if !containsArg(cmds[0].Args, "interface:blk") {
		t.Fatalf("cmds[0] = %v, want oem interface:blk", cmds[0].Args)
	}
	if !containsArg(cmds[1].Args, "bootdevice:mmc") {
		t.Fatalf("cmds[1] = %v, want oem bootdevice:mmc", cmds[1].Args)
	}
	if !containsArg(cmds[2].Args, "runcommand:mmc partconf 0 1 1 2") {
		t.Fatalf("cmds[2] = %v, want the partconf command targeting partnum 2", cmds[2].Args)
	}
}

func TestMediumInitCommandsNOREmitsOnlyInterface(t *testing.T) {
	cmds := MediumInitCommands("nor", 0, 0, TransportUSB, "")
	if len(cmds) != 1 || !containsArg(cmds[0].Args, "interface:mtd") {
		t.Fatalf("cmds = %+v, want a single oem interface:mtd command", cmds)
	}
}

func TestMediumInitCommandsUnknownMediumIsSkipped(t *testing.T) {
	if cmds := MediumInitCommands("sdcard", 0, 0, TransportUSB, ""); cmds != nil {
		t.Fatalf("cmds = %+v, want no commands for an unrecognized medium", cmds)
	}
}

func TestBuildPlanInterleavesInitAndFlashCommandsPerImage(t *testing.T) {
	images := WithSyntheticGPT("hostA", FlattenImages(Manifest{Images: map[string]ManifestImage{
		"boot_a.img": {Storages: map[string]StorageTarget{
			"emmc": {PartInfo: []string{"boot_a"}},
		}},
	}}, "/scratch"))

	var seenMediums []string
	mediumInit := func(medium string) []Command {
		seenMediums = append(seenMediums, medium)
		return MediumInitCommands(medium, 0, 0, TransportUSB, "")
	}

	plan, err := BuildPlan(images, mediumInit, fixedSize(100), TransportUSB, "")
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	// Two synthetic GPT images (emmc, emmc_boot0) plus boot_a (emmc): each
	// image gets its medium's init commands immediately before its flash.
	if len(seenMediums) != 3 {
		t.Fatalf("seenMediums = %v, want 3 init invocations", seenMediums)
	}

	last := plan[len(plan)-1]
	if !containsArg(last.Args, "reboot") {
		t.Fatalf("last command %v should be reboot", last.Args)
	}

	flashCount := 0
	for _, cmd := range plan {
		if containsArg(cmd.Args, "flash") {
			flashCount++
		}
	}
	if flashCount != 3 {
		t.Fatalf("flashCount = %d, want 3 (2 synthetic GPT + boot_a)", flashCount)
	}
}
