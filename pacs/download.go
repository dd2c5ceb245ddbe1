// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pacs

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Download the PACS archive into dataDir and unzip it, if it is not there yet.
func Download(dataDir string) error {
	dataDir, err := fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return err
	}
	targetDir := filepath.Join(dataDir, LocalDir)
	if fsutil.MustFileExists(targetDir) {
		klog.V(1).Infof("PACS already in %q", targetDir)
		return nil
	}
	zipPath := filepath.Join(dataDir, LocalZipFile)
	if err = DownloadIfMissing(DownloadURL, zipPath); err != nil {
		return err
	}
	if err = unzip(zipPath, dataDir); err != nil {
		return err
	}
	if !fsutil.MustFileExists(targetDir) {
		return errors.Errorf("downloaded from %q and unzip'ed %q, but didn't get directory %q",
			DownloadURL, zipPath, targetDir)
	}
	return nil
}

// DownloadIfMissing downloads url to filePath, if filePath doesn't exist yet.
func DownloadIfMissing(url, filePath string) error {
	if fsutil.MustFileExists(filePath) {
		return nil
	}
	fmt.Printf("Downloading %s ...\n", url)
	size, err := download(url, filePath)
	if err != nil {
		return err
	}
	klog.Infof("Downloaded %s to %q", humanize.Bytes(uint64(size)), filePath)
	return nil
}

// download url to filePath, with a progress bar.
func download(url, filePath string) (size int64, err error) {
	if err = os.MkdirAll(filepath.Dir(filePath), 0777); err != nil {
		return 0, errors.Wrapf(err, "failed to create the directory for the path %q", filePath)
	}
	resp, err := http.Get(url)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed downloading %q: status %s", url, resp.Status)
	}

	// Write to a temporary file first, so an interrupted download is not taken as complete.
	tmpPath := filePath + ".partial"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating file %q", tmpPath)
	}
	bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(filePath))
	size, err = io.Copy(io.MultiWriter(file, bar), resp.Body)
	_ = bar.Close()
	if err != nil {
		_ = file.Close()
		return 0, errors.Wrapf(err, "downloading %q to %q", url, tmpPath)
	}
	if err = file.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return 0, errors.Wrapf(err, "failed renaming %q to %q", tmpPath, filePath)
	}
	return size, nil
}

// unzip zipFile from the zipBaseDir.
func unzip(zipFile, zipBaseDir string) error {
	cmd := exec.Command("unzip", "-q", "-u", zipFile)
	cmd.Dir = zipBaseDir
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "failed to run %q", cmd)
	}
	return nil
}
