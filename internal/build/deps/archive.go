package deps

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"contractlab/internal/build/model"
	"contractlab/internal/common/storage"
	appErr "contractlab/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	archiveTempName        = ".archive.tmp"
	defaultMaxArchiveBytes = 256 << 20
)

// ArchiveFetcher downloads a zstd-compressed tarball from object storage and
// unpacks it. A single top-level directory in the tarball is flattened away.
type ArchiveFetcher struct {
	storage  storage.ObjectStorage
	bucket   string
	maxBytes int64
}

// NewArchiveFetcher creates a fetcher reading from bucket.
func NewArchiveFetcher(store storage.ObjectStorage, bucket string, maxBytes int64) *ArchiveFetcher {
	if maxBytes <= 0 {
		maxBytes = defaultMaxArchiveBytes
	}
	return &ArchiveFetcher{storage: store, bucket: bucket, maxBytes: maxBytes}
}

func (f *ArchiveFetcher) Fetch(ctx context.Context, src Source, dep model.Dependency, dest string) error {
	if f.storage == nil {
		return appErr.New(appErr.DependencyInstallFailed).WithMessage("object storage is not configured")
	}
	stat, err := f.storage.StatObject(ctx, f.bucket, src.Location)
	if err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "archive %s not available", src.Location)
	}
	if stat.SizeBytes > f.maxBytes {
		return appErr.Newf(appErr.DependencyInstallFailed, "archive %s is %d bytes, limit is %d", src.Location, stat.SizeBytes, f.maxBytes)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "create %s failed", dep.Name)
	}
	tempPath := filepath.Join(dest, archiveTempName)
	if err := f.download(ctx, src, tempPath); err != nil {
		return err
	}
	if err := extractArchive(tempPath, dest); err != nil {
		return err
	}
	_ = os.Remove(tempPath)
	return flattenSingleRoot(dest)
}

func (f *ArchiveFetcher) download(ctx context.Context, src Source, dstPath string) error {
	reader, err := f.storage.GetObject(ctx, f.bucket, src.Location)
	if err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "download archive failed")
	}
	defer reader.Close()

	file, err := os.Create(dstPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "create archive file failed")
	}
	defer file.Close()

	hasher := sha256.New()
	tee := io.TeeReader(io.LimitReader(reader, f.maxBytes+1), hasher)
	n, err := io.Copy(file, tee)
	if err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "write archive file failed")
	}
	if n > f.maxBytes {
		return appErr.Newf(appErr.DependencyInstallFailed, "archive %s exceeds %d bytes", src.Location, f.maxBytes)
	}
	if src.SHA256 != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, src.SHA256) {
			return appErr.Newf(appErr.DependencyHashMismatch, "archive %s hash mismatch", src.Location)
		}
	}
	return nil
}

func extractArchive(srcPath, dstDir string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "open archive failed")
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "create zstd reader failed")
	}
	defer zr.Close()

	root := filepath.Clean(dstDir) + string(filepath.Separator)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DependencyInstallFailed, "read tar entry failed")
		}
		if hdr.Name == "" {
			continue
		}
		cleanName := filepath.Clean(hdr.Name)
		if cleanName == "." {
			continue
		}
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return appErr.Newf(appErr.DependencyInstallFailed, "invalid tar entry path %q", hdr.Name)
		}
		target := filepath.Join(dstDir, cleanName)
		if !strings.HasPrefix(target, root) {
			return appErr.Newf(appErr.DependencyInstallFailed, "tar entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return appErr.Wrapf(err, appErr.DependencyInstallFailed, "create dir failed")
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeEntry(r io.Reader, target string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "create parent dir failed")
	}
	if mode == 0 {
		mode = 0o644
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "create file failed")
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "write file failed")
	}
	return file.Close()
}

// flattenSingleRoot moves dir/<only>/* up into dir when the archive wrapped
// everything in one directory, as release tarballs usually do.
func flattenSingleRoot(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "list extracted archive failed")
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}
	inner := filepath.Join(dir, entries[0].Name())
	children, err := os.ReadDir(inner)
	if err != nil {
		return appErr.Wrapf(err, appErr.DependencyInstallFailed, "list extracted archive failed")
	}
	for _, child := range children {
		if child.Name() == entries[0].Name() {
			// same-named child would collide with inner itself
			return nil
		}
	}
	for _, child := range children {
		if err := os.Rename(filepath.Join(inner, child.Name()), filepath.Join(dir, child.Name())); err != nil {
			return appErr.Wrapf(err, appErr.DependencyInstallFailed, "flatten archive failed")
		}
	}
	return os.Remove(inner)
}
