// Package session implements SessionManager: per-descriptor
// open/close/read/write/lseek/unlink/client_done against a shared
// CacheStore and RpcClient. A Manager serves exactly one client; its
// descriptor table is touched only by that client's own goroutine and
// needs no lock of its own; the CacheStore lock is the only
// synchronization this package performs.
package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/log"

	"github.com/hzj010427/RPC-file-caching-proxy/internal/cachestore"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/errno"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/pathmap"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/rpcclient"
)

// OpenOption is the open-call option set a client selects from.
type OpenOption int

const (
	Read OpenOption = iota
	Write
	Create
	CreateNew
)

// Whence is the lseek reference-point set.
type Whence int

const (
	FromStart Whence = iota
	FromCurrent
	FromEnd
)

// State is the per-descriptor bookkeeping a Manager tracks for one open
// file handle.
type State struct {
	ID          int
	LogicalPath string
	Mode        string // "r" or "rw"
	CachePath   string
	WorkPath    string // set only for writers
	Handle      *os.File
	Dirty       bool
	SizeBytes   int64

	entry *cachestore.Entry // the pinned entry this descriptor holds alive
}

// Manager is one client's SessionManager: its own descriptor table over a
// CacheStore and RpcClient shared with every other client.
type Manager struct {
	Store *cachestore.Store
	RPC   rpcclient.Client
	Paths pathmap.Mapper

	descriptors map[int]*State
	nextFD      int
}

// NewManager returns a Manager with an empty descriptor table.
func NewManager(store *cachestore.Store, rpc rpcclient.Client, paths pathmap.Mapper) *Manager {
	return &Manager{
		Store:       store,
		RPC:         rpc,
		Paths:       paths,
		descriptors: make(map[int]*State),
	}
}

func optionInt(o OpenOption) int { return int(o) }

// Open resolves logical against the shared cache, fetching it from the
// remote server on a miss, and returns a new descriptor for it.
func (m *Manager) Open(logical string, option OpenOption) (int, error) {
	m.Store.Lock()
	defer m.Store.Unlock()

	m.Store.TouchAll()

	entry, status, err := m.fetch(logical, option)
	if err != nil {
		return 0, err
	}
	if status.IsError() {
		return 0, errno.E("open", logical, status, nil)
	}

	return m.handleFD(entry, logical, status)
}

// fetch resolves (logical, option) against the CacheStore and RpcClient,
// installing a new entry on a cache miss. Caller holds the CacheStore write
// lock across this entire call: the probe, the cache-hit check, and the
// install-on-miss path all need to observe a consistent view of the store.
func (m *Manager) fetch(logical string, option OpenOption) (*cachestore.Entry, errno.Errno, error) {
	probe, err := m.RPC.DownloadChunk(logical, 0, optionInt(option), true)
	if err != nil {
		return nil, 0, errno.E("open", logical, errno.EIO, err)
	}
	if !probe.Valid {
		return nil, errno.Errno(probe.StatusCode), nil
	}
	if probe.StatusCode < 0 {
		return nil, errno.Errno(probe.StatusCode), nil
	}

	cachePath := m.Paths.VersionedCachePath(logical, probe.Version)

	if existing, ok := m.Store.Lookup(cachePath); ok && existing.Valid {
		m.Store.Pin(existing)
		return existing, errno.Errno(probe.StatusCode), nil
	}

	entry := &cachestore.Entry{
		CachePath:   cachePath,
		LogicalPath: logical,
		Version:     probe.Version,
		SizeBytes:   probe.TotalSize,
	}

	m.Store.MakeRoom(entry.SizeBytes)

	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return nil, 0, errno.E("open", logical, errno.EIO, err)
	}
	f, err := os.Create(cachePath)
	if err != nil {
		return nil, 0, errno.E("open", logical, errno.EIO, err)
	}
	defer f.Close()

	chunkNum := 0
	for {
		resp, err := m.RPC.DownloadChunk(logical, chunkNum, optionInt(option), false)
		if err != nil {
			os.Remove(cachePath)
			return nil, 0, errno.E("open", logical, errno.EIO, err)
		}
		if _, err := f.WriteAt(resp.Data, int64(chunkNum)*rpcclient.ChunkSize); err != nil {
			os.Remove(cachePath)
			return nil, 0, errno.E("open", logical, errno.EIO, err)
		}
		if resp.IsLast {
			break
		}
		chunkNum++
	}

	m.Store.Install(entry)
	m.Store.Pin(entry)

	prefix := m.Paths.ServerPath(logical)
	m.Store.MarkStale(prefix)
	entry.Stale = false // the just-installed entry is current, not superseded
	m.Store.SweepStale(prefix)

	log.Info("session: fetched %s version=%d size=%d", logical, entry.Version, entry.SizeBytes)

	return entry, errno.Errno(probe.StatusCode), nil
}

// handleFD resolves the grant mode, materializes a writer's private copy
// if needed, and allocates a descriptor.
func (m *Manager) handleFD(entry *cachestore.Entry, logical string, status errno.Errno) (int, error) {
	mode := "rw"
	if status == errno.ModeR {
		mode = "r"
	}

	st := &State{
		LogicalPath: logical,
		Mode:        mode,
		CachePath:   entry.CachePath,
		entry:       entry,
	}

	if mode == "r" {
		f, err := os.Open(entry.CachePath)
		if err != nil {
			m.Store.Unpin(entry)
			return 0, errno.E("open", logical, errno.EIO, err)
		}
		st.Handle = f
		st.SizeBytes = entry.SizeBytes
	} else {
		workPath := m.Paths.FreshTempPath(logical, entry.Version)

		if err := os.MkdirAll(filepath.Dir(workPath), 0o755); err != nil {
			m.Store.Unpin(entry)
			return 0, errno.E("open", logical, errno.EIO, err)
		}

		if fi, err := os.Stat(entry.CachePath); err == nil {
			copySize := fi.Size()
			if m.Store.IsFull(copySize) {
				m.Store.MakeRoom(copySize)
			}
			if err := copyFile(entry.CachePath, workPath); err != nil {
				m.Store.Unpin(entry)
				return 0, errno.E("open", logical, errno.EIO, err)
			}
			m.Store.AdjustSize(copySize)
			st.SizeBytes = copySize
		}

		f, err := os.OpenFile(workPath, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			m.Store.Unpin(entry)
			return 0, errno.E("open", logical, errno.EIO, err)
		}
		st.Handle = f
		st.WorkPath = workPath
	}

	m.nextFD++
	st.ID = m.nextFD
	m.descriptors[st.ID] = st
	mOpenDescriptors.Inc()

	return st.ID, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}

func (m *Manager) lookup(fd int) (*State, error) {
	st, ok := m.descriptors[fd]
	if !ok {
		return nil, errno.E("", "", errno.EBADF, fmt.Errorf("no such descriptor %d", fd))
	}
	return st, nil
}
