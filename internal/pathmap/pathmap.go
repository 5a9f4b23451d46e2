// Package pathmap implements the pure, total path translations between
// logical (server-relative) paths and on-disk cache paths, including their
// versioned and temp-suffix forms. No function in this package touches the
// file system except fresh_temp_path's existence probe (documented below);
// callers hold the CacheStore write lock across the create that follows it.
package pathmap

import (
	"os"
	"path"
	"strconv"
	"strings"
)

const (
	versionSep = "_v"
	tmpSuffix  = "_tmp"
)

// Mapper translates between logical paths and on-disk cache paths rooted at
// a single cache directory.
type Mapper struct {
	CacheRoot string
}

// New returns a Mapper rooted at cacheRoot.
func New(cacheRoot string) Mapper {
	return Mapper{CacheRoot: cacheRoot}
}

// ServerPath maps a logical path to its absolute location below CacheRoot.
// A logical path may carry at most one leading "../"; that prefix is
// preserved verbatim (one level, no more) and the remainder is cleaned and
// re-joined under CacheRoot. This is intentionally not a general
// path-traversal guard; the remote server enforces the real rootdir
// boundary on its own side of the wire.
func (m Mapper) ServerPath(logical string) string {
	prefix := ""
	rest := logical
	if strings.HasPrefix(rest, "../") {
		prefix = "../"
		rest = strings.TrimPrefix(rest, "../")
	}
	rest = strings.TrimPrefix(path.Clean("/"+rest), "/")
	resolved := path.Join(m.CacheRoot, rest)
	if prefix == "" {
		return resolved
	}
	return prefix + strings.TrimPrefix(resolved, "/")
}

// VersionedCachePath returns the on-disk path for a specific version of a
// logical path.
func (m Mapper) VersionedCachePath(logical string, version int) string {
	return m.ServerPath(logical) + versionSep + strconv.Itoa(version)
}

// FreshTempPath returns a temp-file path derived from the versioned cache
// path of (logical, version): the smallest k>=1 such that
// versioned_cache_path + "_tmp"*k does not currently exist on disk.
//
// Uniqueness is only guaranteed relative to on-disk state observed at call
// time; the caller must hold the CacheStore write lock across this call and
// the subsequent file creation.
func (m Mapper) FreshTempPath(logical string, version int) string {
	base := m.VersionedCachePath(logical, version)
	for k := 1; ; k++ {
		candidate := base + strings.Repeat(tmpSuffix, k)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// StripVersioning removes any trailing "_v<digits>" and subsequent
// "_tmp"+ suffixes from a cache or temp path, returning the corresponding
// server path. It is the left inverse of VersionedCachePath /
// FreshTempPath: StripVersioning(VersionedCachePath(p, v)) == ServerPath(p).
func StripVersioning(path string) string {
	s := path
	for strings.HasSuffix(s, tmpSuffix) {
		s = strings.TrimSuffix(s, tmpSuffix)
	}
	idx := strings.LastIndex(s, versionSep)
	if idx < 0 {
		return s
	}
	digits := s[idx+len(versionSep):]
	if digits == "" {
		return s
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return s
		}
	}
	return s[:idx]
}
