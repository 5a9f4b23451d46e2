package session

import (
	"io"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/log"

	"github.com/hzj010427/RPC-file-caching-proxy/internal/cachestore"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/errno"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/rpcclient"
)

// Read reads from the descriptor's underlying handle at its current
// offset.
func (m *Manager) Read(fd int, buf []byte) (int, error) {
	st, err := m.lookup(fd)
	if err != nil {
		return 0, err
	}
	if st.Handle == nil {
		return 0, errno.E("read", st.LogicalPath, errno.EISDIR, nil)
	}

	n, err := st.Handle.Read(buf)
	if err != nil && err != io.EOF {
		return n, errno.E("read", st.LogicalPath, errno.EIO, err)
	}
	return n, nil
}

// Write writes to the descriptor's private working copy, growing the
// cache's tracked footprint if the file grows.
func (m *Manager) Write(fd int, buf []byte) (int, error) {
	st, err := m.lookup(fd)
	if err != nil {
		return 0, err
	}
	if st.Mode != "rw" {
		return 0, errno.E("write", st.LogicalPath, errno.EBADF, nil)
	}

	m.Store.Lock()
	if m.Store.IsFull(int64(len(buf))) {
		m.Store.MakeRoom(int64(len(buf)))
	}
	m.Store.Unlock()

	n, err := st.Handle.Write(buf)
	if err != nil {
		return n, errno.E("write", st.LogicalPath, errno.EIO, err)
	}

	if fi, statErr := st.Handle.Stat(); statErr == nil {
		newSize := fi.Size()
		if delta := newSize - st.SizeBytes; delta > 0 {
			m.Store.Lock()
			m.Store.AdjustSize(delta)
			m.Store.Unlock()
		}
		st.SizeBytes = newSize
	}
	st.Dirty = true

	return n, nil
}

// Lseek repositions the descriptor's handle relative to whence.
func (m *Manager) Lseek(fd int, offset int64, whence Whence) (int64, error) {
	st, err := m.lookup(fd)
	if err != nil {
		return 0, err
	}
	if st.Handle == nil {
		return 0, errno.E("lseek", st.LogicalPath, errno.EISDIR, nil)
	}

	fi, err := st.Handle.Stat()
	if err != nil {
		return 0, errno.E("lseek", st.LogicalPath, errno.EIO, err)
	}
	size := fi.Size()

	var abs int64
	switch whence {
	case FromStart:
		abs = offset
	case FromCurrent:
		cur, err := st.Handle.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, errno.E("lseek", st.LogicalPath, errno.EIO, err)
		}
		abs = cur + offset
	case FromEnd:
		abs = size + offset
	default:
		return 0, errno.E("lseek", st.LogicalPath, errno.EINVAL, nil)
	}

	if abs < 0 {
		return 0, errno.E("lseek", st.LogicalPath, errno.EINVAL, nil)
	}
	if whence == FromEnd && abs > size {
		return 0, errno.E("lseek", st.LogicalPath, errno.EINVAL, nil)
	}

	pos, err := st.Handle.Seek(abs, io.SeekStart)
	if err != nil {
		return 0, errno.E("lseek", st.LogicalPath, errno.EIO, err)
	}
	return pos, nil
}

// Close finalizes a descriptor: on a dirty writer, promotes the working
// copy to a new versioned entry, uploads it, and supersedes the old
// version; in every case, unpins the entry this descriptor held and drops
// its bookkeeping.
func (m *Manager) Close(fd int) error {
	st, err := m.lookup(fd)
	if err != nil {
		return err
	}

	m.Store.Lock()
	defer m.Store.Unlock()

	if st.Mode == "rw" && st.Dirty {
		if err := m.flushWriter(st); err != nil {
			return err
		}
	}

	if entry, ok := m.Store.Lookup(st.entry.CachePath); ok {
		m.Store.Unpin(entry)
		m.Store.ResetLRU(entry)
		m.Store.SweepStale(m.Paths.ServerPath(st.LogicalPath))
	}

	if st.Handle != nil {
		st.Handle.Close()
	}
	delete(m.descriptors, fd)
	mOpenDescriptors.Dec()

	return nil
}

// flushWriter promotes work_path to a new versioned entry, marks the old
// one stale, uploads it to the remote server, and reclaims the temp
// file's footprint. Caller holds the CacheStore write lock.
func (m *Manager) flushWriter(st *State) error {
	newVersion, err := m.RPC.StatVersion(st.LogicalPath)
	if err != nil {
		return errno.E("close", st.LogicalPath, errno.EIO, err)
	}
	newVersion++

	newCachePath := m.Paths.VersionedCachePath(st.LogicalPath, newVersion)
	if err := os.MkdirAll(filepath.Dir(newCachePath), 0o755); err != nil {
		return errno.E("close", st.LogicalPath, errno.EIO, err)
	}
	if err := copyFile(st.WorkPath, newCachePath); err != nil {
		return errno.E("close", st.LogicalPath, errno.EIO, err)
	}

	fi, err := os.Stat(newCachePath)
	if err != nil {
		return errno.E("close", st.LogicalPath, errno.EIO, err)
	}

	newEntry := &cachestore.Entry{
		CachePath:   newCachePath,
		LogicalPath: st.LogicalPath,
		Version:     newVersion,
		SizeBytes:   fi.Size(),
	}
	m.Store.Install(newEntry)

	if _, ok := m.Store.Lookup(st.entry.CachePath); ok {
		m.Store.MarkStale(m.Paths.ServerPath(st.LogicalPath))
		newEntry.Stale = false // the entry just installed is current, not superseded
	}

	workSize := st.SizeBytes
	if err := os.Remove(st.WorkPath); err != nil && !os.IsNotExist(err) {
		log.Error("session: close %s: remove work_path: %v", st.LogicalPath, err)
	}
	m.Store.AdjustSize(-workSize)

	if err := uploadAll(m.RPC, st.LogicalPath, newCachePath, newVersion); err != nil {
		log.Fatal(err)
	}

	return nil
}

func uploadAll(rpc rpcclient.Client, logical, path string, version int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	buf := make([]byte, rpcclient.ChunkSize)
	chunkNum := 0
	var sent int64
	for {
		n, readErr := f.Read(buf)
		sent += int64(n)
		isLast := sent >= fi.Size()
		if n > 0 {
			if err := rpc.UploadChunk(logical, buf[:n], version, chunkNum, isLast); err != nil {
				return err
			}
		}
		if isLast {
			if n == 0 && chunkNum == 0 {
				// empty file: still send one, zero-length, final chunk
				if err := rpc.UploadChunk(logical, nil, version, 0, true); err != nil {
					return err
				}
			}
			return nil
		}
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		chunkNum++
	}
}

// Unlink asks the remote server to remove logical, then marks any cached
// versions of it stale so they get swept on their next close.
func (m *Manager) Unlink(logical string) error {
	exists, err := m.RPC.StatExists(logical)
	if err != nil {
		return errno.E("unlink", logical, errno.EIO, err)
	}
	if !exists {
		return errno.E("unlink", logical, errno.ENOENT, nil)
	}

	isDir, err := m.RPC.StatIsDir(logical)
	if err != nil {
		return errno.E("unlink", logical, errno.EIO, err)
	}
	if isDir {
		return errno.E("unlink", logical, errno.EISDIR, nil)
	}

	ok, err := m.RPC.Delete(logical)
	if err != nil {
		return errno.E("unlink", logical, errno.EIO, err)
	}
	if !ok {
		return errno.E("unlink", logical, errno.EPERM, nil)
	}

	m.Store.Lock()
	m.Store.MarkStale(m.Paths.ServerPath(logical))
	m.Store.Unlock()

	return nil
}

// ClientDone tears down every remaining descriptor for an abruptly
// disconnected client: it closes open handles and drops descriptor
// bookkeeping, but does not unpin the entries those descriptors were
// holding. A client that disconnects without first closing every
// descriptor leaks those pins; callers should close everything first.
func (m *Manager) ClientDone() {
	for fd, st := range m.descriptors {
		if st.Handle != nil {
			st.Handle.Close()
		}
		delete(m.descriptors, fd)
		mOpenDescriptors.Dec()
	}
}
