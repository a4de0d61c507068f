package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveLatest(t *testing.T) {
	payload := []byte("firmware contents")
	sum := md5.Sum(payload)

	var srv *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/repo", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("lastModified") {
			fmt.Fprintf(w, `{"uri": "/pkg-1.zip"}`)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/repo/pkg-1.zip", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"size": "%d", "downloadUri": "%s/download/pkg-1.zip", "checksums": {"md5": "%s"}}`,
			len(payload), srv.URL, hex.EncodeToString(sum[:]))
	})
	mux.HandleFunc("/download/pkg-1.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	client := srv.Client()
	info, err := ResolveLatest(context.Background(), client, srv.URL+"/repo")
	if err != nil {
		t.Fatalf("ResolveLatest: %v", err)
	}
	if !strings.Contains(info.DownloadURI, srv.URL) {
		t.Fatalf("downloadUri = %q, want it substituted with the test server URL", info.DownloadURI)
	}

	dir := t.TempDir()
	path, err := DownloadAndVerify(context.Background(), client, info, dir)
	if err != nil {
		t.Fatalf("DownloadAndVerify: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("downloaded content mismatch")
	}
}

func TestDownloadAndVerifyRejectsSizeMismatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/download/bad.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("short"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	info := &PackageInfo{Size: "99999", DownloadURI: srv.URL + "/download/bad.bin"}
	dir := t.TempDir()

	_, err := DownloadAndVerify(context.Background(), srv.Client(), info, dir)
	if err == nil {
		t.Fatal("expected a size mismatch error")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "bad.bin")); !os.IsNotExist(statErr) {
		t.Fatal("partial file should have been removed after a failed verification")
	}
}

func TestResolveDebPackageMatchesNameAndArch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/runtime-pkg", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"children": [
			{"uri": "/unrelated-pkg_amd64.deb"},
			{"uri": "/my-app_1.0_arm64.deb"}
		]}`)
	})
	mux.HandleFunc("/runtime-pkg/my-app_1.0_arm64.deb", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"size": "10", "downloadUri": "https://example/my-app_1.0_arm64.deb", "checksums": {"md5": "abc"}}`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	info, err := ResolveDebPackage(context.Background(), srv.Client(), srv.URL+"/runtime-pkg", "my-app", "arm64")
	if err != nil {
		t.Fatalf("ResolveDebPackage: %v", err)
	}
	if info.DownloadURI != "https://example/my-app_1.0_arm64.deb" {
		t.Fatalf("downloadUri = %q", info.DownloadURI)
	}
}

func TestResolveDebPackageNoMatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/runtime-pkg", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"children": [{"uri": "/other-pkg_arm64.deb"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if _, err := ResolveDebPackage(context.Background(), srv.Client(), srv.URL+"/runtime-pkg", "my-app", "arm64"); err == nil {
		t.Fatal("expected an error when no child matches")
	}
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "pkg.zip")

	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("IMG/SBL.img")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	w.Write([]byte("bootloader bytes"))
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	f.Close()

	destDir := t.TempDir()
	if err := ExtractZip(archivePath, destDir); err != nil {
		t.Fatalf("ExtractZip: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(destDir, "IMG", "SBL.img"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(got) != "bootloader bytes" {
		t.Fatalf("extracted content = %q", got)
	}
}

func TestExtractZipRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")

	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("../../etc/passwd")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	w.Write([]byte("not actually passwd"))
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	f.Close()

	destDir := t.TempDir()
	if err := ExtractZip(archivePath, destDir); err == nil {
		t.Fatal("expected an error for a zip entry escaping destDir")
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(destDir)), "etc", "passwd")); !os.IsNotExist(statErr) {
		t.Fatal("escaping entry should not have been written outside destDir")
	}
}
