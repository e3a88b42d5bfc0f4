// Package downloader fetches and extracts the corpus archives used by this
// repository. It keeps already-downloaded files, optionally verifying their
// sha256 checksum.
package downloader

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// progressWriter copies bytes to w while updating a progress bar sized in
// units derived from contentLength.
type progressWriter struct {
	w                             io.Writer
	bar                           *progressbar.ProgressBar
	amountWritten                 int64
	barUnit, numUnits, addedUnits int64
}

func newProgressWriter(w io.Writer, contentLength int64) *progressWriter {
	pw := &progressWriter{w: w, barUnit: 1}
	for contentLength > pw.barUnit*1024*1024 {
		pw.barUnit *= 1024
	}
	pw.numUnits = (contentLength + pw.barUnit - 1) / pw.barUnit
	pw.bar = progressbar.NewOptions(int(pw.numUnits),
		progressbar.OptionSetDescription(fsutil.ByteCountIEC(contentLength)),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	return pw
}

func (pw *progressWriter) Write(p []byte) (n int, err error) {
	n, err = pw.w.Write(p)
	pw.amountWritten += int64(n)
	toUnits := pw.amountWritten / pw.barUnit
	if toUnits > pw.addedUnits {
		_ = pw.bar.Add(int(toUnits - pw.addedUnits))
		pw.addedUnits = toUnits
	}
	return
}

func (pw *progressWriter) close() {
	if pw.addedUnits < pw.numUnits {
		_ = pw.bar.Add(int(pw.numUnits - pw.addedUnits))
	}
	_ = pw.bar.Close()
	fmt.Println()
}

// Download fetches url into filePath, creating parent directories as needed.
// It returns the number of bytes written.
func Download(url, filePath string, showProgressBar bool) (size int64, err error) {
	filePath = fsutil.MustReplaceTildeInDir(filePath)
	if err = os.MkdirAll(path.Dir(filePath), 0777); err != nil && !os.IsExist(err) {
		return 0, errors.Wrapf(err, "failed to create directory %q", path.Dir(filePath))
	}
	file, err := os.Create(filePath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating file %q", filePath)
	}
	client := http.Client{
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			r.URL.Opaque = r.URL.Path
			return nil
		},
	}
	resp, err := client.Get(url)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	if showProgressBar {
		pw := newProgressWriter(file, resp.ContentLength)
		size, err = io.Copy(pw, resp.Body)
		pw.close()
	} else {
		size, err = io.Copy(file, resp.Body)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "downloading %q to %q", url, filePath)
	}
	if err = file.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing %q", filePath)
	}
	if err = resp.Body.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing connection to %q", url)
	}
	return size, nil
}

// DownloadIfMissing downloads url into filePath only if the file is not
// already there. If checkHash is non-empty the file's sha256 must match it.
func DownloadIfMissing(url, filePath, checkHash string) error {
	filePath = fsutil.MustReplaceTildeInDir(filePath)
	if !fsutil.MustFileExists(filePath) {
		fmt.Printf("Downloading %s ...\n", url)
		if _, err := Download(url, filePath, true); err != nil {
			return err
		}
	}
	if checkHash == "" {
		return nil
	}
	return fsutil.ValidateChecksum(filePath, checkHash)
}

// Untar extracts tarFile (gzip-compressed when suffixed .gz/.tgz) under baseDir.
// Entries escaping baseDir are rejected.
func Untar(baseDir, tarFile string) error {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	f, err := os.Open(tarFile)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", tarFile)
	}
	defer func() { _ = f.Close() }()

	var reader io.Reader = f
	if strings.HasSuffix(tarFile, ".gz") || strings.HasSuffix(tarFile, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "failed to un-gzip %q", tarFile)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "while reading tar %q", tarFile)
		}
		target := filepath.Join(baseDir, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(baseDir)+string(os.PathSeparator)) {
			return errors.Errorf("tar entry %q in %q escapes the extraction directory", hdr.Name, tarFile)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0777); err != nil {
				return errors.Wrapf(err, "failed to create directory %q", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0777); err != nil {
				return errors.Wrapf(err, "failed to create directory %q", filepath.Dir(target))
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return errors.Wrapf(err, "failed to create %q", target)
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return errors.Wrapf(err, "failed extracting %q", target)
			}
			if err := out.Close(); err != nil {
				return errors.Wrapf(err, "failed closing %q", target)
			}
		}
	}
}

// DownloadAndUntarIfMissing downloads tarFile from url if needed, and extracts
// it unless targetUntarDir already exists. Relative paths are taken under
// baseDir. If checkHash is non-empty the archive's sha256 must match it.
func DownloadAndUntarIfMissing(url, baseDir, tarFile, targetUntarDir, checkHash string) error {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	if !path.IsAbs(tarFile) {
		tarFile = path.Join(baseDir, tarFile)
	}
	if !path.IsAbs(targetUntarDir) {
		targetUntarDir = path.Join(baseDir, targetUntarDir)
	}
	if fsutil.MustFileExists(targetUntarDir) {
		return nil
	}
	if err := DownloadIfMissing(url, tarFile, checkHash); err != nil {
		return err
	}
	if err := Untar(baseDir, tarFile); err != nil {
		return err
	}
	if !fsutil.MustFileExists(targetUntarDir) {
		return errors.Errorf("downloaded %q and extracted %q, but directory %q is still missing",
			url, tarFile, targetUntarDir)
	}
	return nil
}
