// Package cache keeps a local directory of asset files in line with the
// digests the store declares, fetching what is missing and repairing what
// went bad.
package cache

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/NatalieWolfe/awoo-diffusion/internal/store"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

// shardCount is the number of local shard directories
const shardCount = 1000

// ErrInvalidAsset means an asset's digest or extension cannot name a file
var ErrInvalidAsset = errors.New("invalid asset")

// ValidateAsset reports whether a can be laid out locally and remotely.
// RemoteKey and LegacyPath require a valid asset.
func ValidateAsset(a store.Asset) error {
	if !util.IsDigest(a.MD5) {
		return fmt.Errorf("%w: record %d has md5 %q", ErrInvalidAsset, a.RecordID, a.MD5)
	}
	if a.FileExt == "" || strings.ContainsAny(a.FileExt, `/\.`) {
		return fmt.Errorf("%w: record %d has file extension %q", ErrInvalidAsset, a.RecordID, a.FileExt)
	}
	return nil
}

// LocalPath is where an asset lives in the cache: <root>/<id % 1000>/<id>.<ext>
func LocalPath(root string, a store.Asset) string {
	shard := strconv.FormatInt(a.RecordID%shardCount, 10)
	return filepath.Join(root, shard, fmt.Sprintf("%d.%s", a.RecordID, a.FileExt))
}

// RemoteKey is the asset's slash-separated key on the remote host:
// <md5[0:2]>/<md5[2:4]>/<md5>.<ext>
func RemoteKey(a store.Asset) string {
	sum := strings.ToLower(a.MD5)
	return path.Join(sum[0:2], sum[2:4], sum+"."+a.FileExt)
}

// LegacyPath is where an older digest-sharded store kept the asset
func LegacyPath(root string, a store.Asset) string {
	return filepath.Join(root, filepath.FromSlash(RemoteKey(a)))
}
