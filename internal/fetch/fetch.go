// Package fetch downloads and verifies build artifacts from a JFrog-style
// artifact repository: resolve the latest matching package, download it,
// verify size and MD5 against the repo's own metadata, and extract it.
//
// Grounded on original_source/commandset/fastboot.py's
// __download_package/__get_latest_package_info/__check_latest_package and
// uartboot.py's equivalent, both of which share this exact query/verify
// shape; consolidated here into one package both subsystems call instead of
// duplicating it, which is itself grounded in the two sources being
// byte-for-byte the same logic.
package fetch

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/carizon/boardprov/internal/boarderr"
	"github.com/carizon/boardprov/internal/retry"
)

const (
	maxDownloadAttempts = 10
	initialBackoff      = 2 * time.Second
	maxBackoff          = 30 * time.Second
)

// PackageInfo is the subset of a JFrog repo's item-info response this tool
// needs: the file's size, MD5, and a direct download URL.
type PackageInfo struct {
	Size          string `json:"size"`
	DownloadURI   string `json:"downloadUri"`
	Checksums     struct {
		MD5 string `json:"md5"`
	} `json:"checksums"`
}

// ResolveLatest queries repoURL for its latest child and returns that
// child's PackageInfo, matching __get_latest_package_info's
// "?lastModified=" query followed by a fetch of {uri}.
func ResolveLatest(ctx context.Context, client *http.Client, repoURL string) (*PackageInfo, error) {
	uri, err := getJSONField(ctx, client, repoURL+"?lastModified=", "uri")
	if err != nil {
		return nil, fmt.Errorf("fetch: resolve latest at %s: %w", repoURL, err)
	}

	var info PackageInfo
	if err := getJSON(ctx, client, repoURL+uri, &info); err != nil {
		return nil, fmt.Errorf("fetch: fetch package info: %w", err)
	}
	if info.DownloadURI == "" {
		return nil, fmt.Errorf("fetch: package info missing downloadUri: %w", boarderr.ErrProtocol)
	}
	return &info, nil
}

// ResolveDebPackage finds the child of repoURL whose URI matches
// "<name>.*<arch>" and returns its PackageInfo, matching
// original_source/commandset/deb.py's __download_deb: list children, regex
// match by name/arch, then fetch the matched child's item-info.
func ResolveDebPackage(ctx context.Context, client *http.Client, repoURL, name, arch string) (*PackageInfo, error) {
	var listing struct {
		Children []struct {
			URI string `json:"uri"`
		} `json:"children"`
	}
	if err := getJSON(ctx, client, repoURL, &listing); err != nil {
		return nil, fmt.Errorf("fetch: list %s: %w", repoURL, err)
	}

	re, err := regexp.Compile(name + ".*" + arch)
	if err != nil {
		return nil, fmt.Errorf("fetch: compile package pattern: %w", err)
	}

	var matchURI string
	for _, c := range listing.Children {
		if re.MatchString(c.URI) {
			matchURI = c.URI
			break
		}
	}
	if matchURI == "" {
		return nil, fmt.Errorf("fetch: no package matching %s:%s in %s: %w", name, arch, repoURL, boarderr.ErrProtocol)
	}

	var info PackageInfo
	if err := getJSON(ctx, client, repoURL+matchURI, &info); err != nil {
		return nil, fmt.Errorf("fetch: fetch package info: %w", err)
	}
	if info.DownloadURI == "" {
		return nil, fmt.Errorf("fetch: package info missing downloadUri: %w", boarderr.ErrProtocol)
	}
	return &info, nil
}

func getJSONField(ctx context.Context, client *http.Client, url, field string) (string, error) {
	var raw map[string]any
	if err := getJSON(ctx, client, url, &raw); err != nil {
		return "", err
	}
	v, ok := raw[field].(string)
	if !ok {
		return "", fmt.Errorf("fetch: missing field %q in response from %s", field, url)
	}
	return v, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// DownloadAndVerify downloads info.DownloadURI into destDir, retrying up to
// maxDownloadAttempts times with exponential backoff, and on every attempt
// removes a partially-downloaded file that fails size/MD5 verification
// before retrying, matching the original's "partial file removed on
// failure" behavior.
func DownloadAndVerify(ctx context.Context, client *http.Client, info *PackageInfo, destDir string) (string, error) {
	destPath := filepath.Join(destDir, filepath.Base(info.DownloadURI))

	err := retry.Do(ctx, maxDownloadAttempts, initialBackoff, maxBackoff, func(attempt int) error {
		if err := downloadOnce(ctx, client, info.DownloadURI, destPath); err != nil {
			os.Remove(destPath)
			return err
		}
		if err := verify(destPath, info); err != nil {
			os.Remove(destPath)
			return err
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch: download %s: %w", info.DownloadURI, err)
	}
	return destPath, nil
}

func downloadOnce(ctx context.Context, client *http.Client, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", err, boarderr.ErrTransport)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %w", url, resp.StatusCode, boarderr.ErrTransport)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

func verify(path string, info *PackageInfo) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	if info.Size != "" {
		wantSize := info.Size
		gotSize := fmt.Sprintf("%d", stat.Size())
		if wantSize != gotSize {
			return fmt.Errorf("fetch: size mismatch: want %s got %s: %w", wantSize, gotSize, boarderr.ErrProtocol)
		}
	}

	if info.Checksums.MD5 != "" {
		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		gotMD5 := hex.EncodeToString(h.Sum(nil))
		if gotMD5 != info.Checksums.MD5 {
			return fmt.Errorf("fetch: md5 mismatch: want %s got %s: %w", info.Checksums.MD5, gotMD5, boarderr.ErrProtocol)
		}
	}

	return nil
}

// ExtractZip unpacks archivePath into destDir, matching the original's use
// of Python's zipfile to unpack a downloaded package into the scratch
// image directory.
func ExtractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("fetch: open zip %s: %w", archivePath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		dest := filepath.Join(destDir, f.Name)
		if rel, err := filepath.Rel(destDir, dest); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("fetch: zip entry %q escapes %s: %w", f.Name, destDir, boarderr.ErrProtocol)
		}
		if f.FileInfo().IsDir() {
			os.MkdirAll(dest, 0o755)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := extractOne(f, dest); err != nil {
			return fmt.Errorf("fetch: extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractOne(f *zip.File, dest string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}
