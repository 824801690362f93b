package mover

import (
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DiskFS is the real-disk FileSystem: it walks the WAL directory for
// parquet files and, when cache_latest_files is enabled, writes a
// zstd-compressed warm-cache copy of each freshly merged output (spec
// §4.5 merge_files step 5: "optionally warm the on-disk cache").
type DiskFS struct {
	CacheDir string
}

var _ FileSystem = (*DiskFS)(nil)

func (d *DiskFS) Stat(path string) (time.Time, int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, 0, err
	}
	return fi.ModTime(), fi.Size(), nil
}

func (d *DiskFS) Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (d *DiskFS) ListParquet(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, de os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !de.IsDir() && filepath.Ext(path) == ".parquet" {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteCache compresses data with zstd and writes it under CacheDir,
// mirroring path's structure so a cache lookup can reconstruct the key
// from the same relative path callers pass at read time.
func (d *DiskFS) WriteCache(path string, data []byte) error {
	if d.CacheDir == "" {
		return nil
	}
	dest := filepath.Join(d.CacheDir, filepath.Clean(path)+".zst")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(data, nil)
	return os.WriteFile(dest, compressed, 0o644)
}
