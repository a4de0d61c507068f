package fastboot

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// Image is one flash target: a file to push to a named partition over a
// specific storage medium.
type Image struct {
	Path      string `json:"path"`
	Partition string `json:"partition"`
	Medium    string `json:"medium"`
	HasGPT    bool   `json:"has_gpt"`
}

// StorageTarget is one medium entry of a manifest image's "storages" map:
// the ordered partition names that image's data is split across on that
// medium, mirroring fastboot.py's {"part_info": [...]} dict.
type StorageTarget struct {
	PartInfo []string `json:"part_info"`
}

// ManifestImage is one entry of a manifest's "images" map.
type ManifestImage struct {
	Name     string                   `json:"name"`
	Size     int64                    `json:"size"`
	Storages map[string]StorageTarget `json:"storages"`
}

// Manifest is the parsed OTA data manifest for one host/module pair,
// matching fastboot.py's data_dict: a map of image file name to the
// mediums/partitions it is flashed onto.
type Manifest struct {
	Version string                   `json:"version"`
	Images  map[string]ManifestImage `json:"images"`
}

var ltsVersionRe = regexp.MustCompile(`[Vv](\d+)\.(\d+)`)

// SelectManifestFile picks the best manifest file name for host from
// candidates, preferring the highest LTS version ("data..._V{major}.{minor}...json")
// and falling back to the first plain candidate matching the host name,
// mirroring fastboot.py's two-regex selection, with versions compared as an
// integer (major, minor) pair (see versionOf).
func SelectManifestFile(candidates []string, host string) (string, error) {
	hostRe := regexp.MustCompile("data.*" + regexp.QuoteMeta(host) + ".*json")

	var plain, lts []string
	for _, c := range candidates {
		if !hostRe.MatchString(c) {
			continue
		}
		plain = append(plain, c)
		if ltsVersionRe.MatchString(c) {
			lts = append(lts, c)
		}
	}

	if len(lts) > 0 {
		sort.Slice(lts, func(i, j int) bool {
			majI, minI := versionOf(lts[i])
			majJ, minJ := versionOf(lts[j])
			if majI != majJ {
				return majI > majJ
			}
			return minI > minJ
		})
		return lts[0], nil
	}
	if len(plain) > 0 {
		return plain[0], nil
	}
	return "", fmt.Errorf("fastboot: no manifest matches host %q", host)
}

// versionOf returns a candidate's (major, minor) version pair, compared as a
// tuple rather than concatenated into one float: a single float would sort
// "V2.10" (major 2, minor 10) below "V2.5" (major 2, minor 5), since "2.10"
// parses smaller than "2.5" as a decimal.
func versionOf(name string) (major, minor int) {
	m := ltsVersionRe.FindStringSubmatch(name)
	if m == nil {
		return -1, -1
	}
	major, _ = strconv.Atoi(m[1])
	minor, _ = strconv.Atoi(m[2])
	return major, minor
}

// mediumOrder fixes the iteration order over a manifest image's storages
// map, mirroring the dict traversal order fastboot.py gets for free from
// CPython's insertion-ordered dicts. Any medium outside this list is
// skipped, matching the original's "unknown medium" continue.
var mediumOrder = []string{"emmc", "emmc_boot0", "emmc_boot1", "nor"}

// mediumHasGPT mirrors fastboot.py's emmc_num_dict has_gpt column: whether
// that medium's own partition table is itself a GPT-addressed target
// (rather than always flashing to raw offset 0).
var mediumHasGPT = map[string]bool{
	"emmc":       true,
	"emmc_boot0": true,
	"emmc_boot1": false,
	"nor":        true,
}

// FlattenImages expands a Manifest's nested image -> medium -> partition map
// into an ordered flash-target list, one Image per (image, medium,
// partition) triple. Image names are visited in sorted order since Go's
// map iteration doesn't preserve the source JSON's key order the way
// fastboot.py's dict walk does; within one image, mediums are visited in
// mediumOrder and partitions in their manifest part_info order.
func FlattenImages(m Manifest, imageDir string) []Image {
	names := make([]string, 0, len(m.Images))
	for name := range m.Images {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Image
	for _, name := range names {
		img := m.Images[name]
		for _, medium := range mediumOrder {
			target, ok := img.Storages[medium]
			if !ok {
				continue
			}
			for _, partition := range target.PartInfo {
				out = append(out, Image{
					Path:      filepath.Join(imageDir, name),
					Partition: partition,
					Medium:    medium,
					HasGPT:    mediumHasGPT[medium],
				})
			}
		}
	}
	return out
}

// WithSyntheticGPT prepends the two virtual GPT images fastboot.py
// synthesizes ahead of every real image: the main GPT table and its boot0
// mirror, named after host.
func WithSyntheticGPT(host string, images []Image) []Image {
	synthetic := []Image{
		{Path: fmt.Sprintf("gpt_main_%s_emmc.img", host), Partition: "gpt", Medium: "emmc", HasGPT: true},
		{Path: fmt.Sprintf("gpt_main_%s_emmc_boot0.img", host), Partition: "gpt", Medium: "emmc_boot0", HasGPT: true},
	}
	return append(synthetic, images...)
}
