package session

import (
	"bytes"
	"io"
	"testing"

	"github.com/hzj010427/RPC-file-caching-proxy/internal/cachestore"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/errno"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/pathmap"
)

func readAll(t *testing.T, m *Manager, fd int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := m.Read(fd, buf)
		out = append(out, buf[:n]...)
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	return out
}

// TestColdReadThenCacheHit covers a cold open that fetches from the
// remote server, followed by a second open that hits the cache.
func TestColdReadThenCacheHit(t *testing.T) {
	dir := t.TempDir()
	store := cachestore.New(1 << 20)
	rpc := newFakeRPC()
	want := bytes.Repeat([]byte("a"), 100*1024)
	rpc.content["a.txt"] = want
	rpc.version["a.txt"] = 0

	mgr := NewManager(store, rpc, pathmap.New(dir))

	fdA, err := mgr.Open("a.txt", Read)
	if err != nil {
		t.Fatalf("open A: %v", err)
	}
	if rpc.probeCalls != 1 || rpc.downloadCalls != 1 {
		t.Fatalf("cold read: probeCalls=%d downloadCalls=%d, want 1,1", rpc.probeCalls, rpc.downloadCalls)
	}
	if got := readAll(t, mgr, fdA); !bytes.Equal(got, want) {
		t.Fatalf("read content mismatch: got %d bytes, want %d", len(got), len(want))
	}
	if err := mgr.Close(fdA); err != nil {
		t.Fatalf("close A: %v", err)
	}

	cachePath := pathmap.New(dir).VersionedCachePath("a.txt", 0)
	entry, ok := store.Lookup(cachePath)
	if !ok || entry.SizeBytes != int64(len(want)) || entry.RefCount != 0 {
		t.Fatalf("unexpected store state after cold read: entry=%+v ok=%v", entry, ok)
	}

	// Scenario 2: cache hit.
	fdB, err := mgr.Open("a.txt", Read)
	if err != nil {
		t.Fatalf("open B: %v", err)
	}
	if rpc.probeCalls != 2 {
		t.Fatalf("cache hit: probeCalls=%d, want 2", rpc.probeCalls)
	}
	if rpc.downloadCalls != 1 {
		t.Fatalf("cache hit: downloadCalls=%d, want unchanged at 1 (R3)", rpc.downloadCalls)
	}
	if got := readAll(t, mgr, fdB); !bytes.Equal(got, want) {
		t.Fatalf("cache-hit read content mismatch")
	}
	if err := mgr.Close(fdB); err != nil {
		t.Fatalf("close B: %v", err)
	}
}

// TestWriteCloseUploadsNewVersion covers a writer whose close promotes a
// new version and uploads it to the remote server.
func TestWriteCloseUploadsNewVersion(t *testing.T) {
	dir := t.TempDir()
	store := cachestore.New(1 << 20)
	rpc := newFakeRPC()
	original := bytes.Repeat([]byte("o"), 100*1024)
	rpc.content["a.txt"] = original
	rpc.version["a.txt"] = 0

	paths := pathmap.New(dir)
	mgr := NewManager(store, rpc, paths)

	fd, err := mgr.Open("a.txt", Write)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	newData := bytes.Repeat([]byte("n"), 50*1024)
	if _, err := mgr.Write(fd, newData); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := mgr.Close(fd); err != nil {
		t.Fatalf("close: %v", err)
	}

	if rpc.version["a.txt"] != 1 {
		t.Fatalf("server version = %d, want 1", rpc.version["a.txt"])
	}
	if !bytes.Equal(rpc.content["a.txt"][:50*1024], newData) {
		t.Fatalf("uploaded content does not start with the new write")
	}

	v1Path := paths.VersionedCachePath("a.txt", 1)
	if e, ok := store.Lookup(v1Path); !ok || e.Stale {
		t.Fatalf("v1 entry missing or incorrectly marked stale: %+v", e)
	}
	v0Path := paths.VersionedCachePath("a.txt", 0)
	if _, ok := store.Lookup(v0Path); ok {
		t.Fatalf("v0 entry should have been swept after close with no other openers")
	}
}

// TestConcurrentWritersLastWriterWins covers two writers opening the same
// logical path, where the second writer to close wins.
func TestConcurrentWritersLastWriterWins(t *testing.T) {
	dir := t.TempDir()
	store := cachestore.New(1 << 20)
	rpc := newFakeRPC()
	rpc.content["b.txt"] = []byte{}
	rpc.version["b.txt"] = 0

	paths := pathmap.New(dir)
	mgr1 := NewManager(store, rpc, paths)
	mgr2 := NewManager(store, rpc, paths)

	fd1, err := mgr1.Open("b.txt", Write)
	if err != nil {
		t.Fatalf("open C1: %v", err)
	}
	fd2, err := mgr2.Open("b.txt", Write)
	if err != nil {
		t.Fatalf("open C2: %v", err)
	}

	if _, err := mgr1.Write(fd1, []byte("X")); err != nil {
		t.Fatalf("write C1: %v", err)
	}
	if _, err := mgr2.Write(fd2, []byte("Y")); err != nil {
		t.Fatalf("write C2: %v", err)
	}

	if err := mgr1.Close(fd1); err != nil {
		t.Fatalf("close C1: %v", err)
	}
	if rpc.version["b.txt"] != 1 || string(rpc.content["b.txt"]) != "X" {
		t.Fatalf("after C1 close: version=%d content=%q, want 1 X", rpc.version["b.txt"], rpc.content["b.txt"])
	}

	if err := mgr2.Close(fd2); err != nil {
		t.Fatalf("close C2: %v", err)
	}
	if rpc.version["b.txt"] != 2 || string(rpc.content["b.txt"]) != "Y" {
		t.Fatalf("after C2 close: version=%d content=%q, want 2 Y", rpc.version["b.txt"], rpc.content["b.txt"])
	}
}

// TestEvictionUnderPin covers eviction deterministically skipping a
// pinned entry in favor of an unpinned one.
func TestEvictionUnderPin(t *testing.T) {
	dir := t.TempDir()
	store := cachestore.New(300 * 1024)
	rpc := newFakeRPC()
	rpc.content["f1"] = bytes.Repeat([]byte("1"), 200*1024)
	rpc.content["f2"] = bytes.Repeat([]byte("2"), 200*1024)
	rpc.content["f3"] = bytes.Repeat([]byte("3"), 200*1024)
	rpc.version["f1"], rpc.version["f2"], rpc.version["f3"] = 0, 0, 0

	paths := pathmap.New(dir)
	mgr := NewManager(store, rpc, paths)

	fd1, err := mgr.Open("f1", Read)
	if err != nil {
		t.Fatalf("open f1: %v", err)
	}

	fd2, err := mgr.Open("f2", Read)
	if err != nil {
		t.Fatalf("open f2: %v", err)
	}
	if store.CurrentSize() <= store.MaxSize() {
		t.Fatalf("expected store over budget with f1 pinned, got %d <= %d", store.CurrentSize(), store.MaxSize())
	}
	f1Path := paths.VersionedCachePath("f1", 0)
	if e, ok := store.Lookup(f1Path); !ok || e.RefCount < 1 {
		t.Fatalf("pinned f1 must survive eviction: %+v ok=%v", e, ok)
	}

	// Only f1 is closed; f2 stays open (pinned) so make_room's only
	// unpinned candidate when f3 is opened is f1.
	if err := mgr.Close(fd1); err != nil {
		t.Fatalf("close f1: %v", err)
	}

	fd3, err := mgr.Open("f3", Read)
	if err != nil {
		t.Fatalf("open f3: %v", err)
	}
	if _, ok := store.Lookup(f1Path); ok {
		t.Fatalf("f1 should have been evicted to make room for f3")
	}
	f2Path := paths.VersionedCachePath("f2", 0)
	if e, ok := store.Lookup(f2Path); !ok || e.RefCount < 1 {
		t.Fatalf("f2 is still open and must survive eviction: %+v ok=%v", e, ok)
	}

	// f3 stays open (pinned); once f2 closes too, the store can shed f2 on
	// the next eviction pass and return within budget.
	mgr.Close(fd2)
	store.Lock()
	store.MakeRoom(0)
	store.Unlock()
	if store.CurrentSize() > store.MaxSize() {
		t.Fatalf("store still over budget once f2 is unpinned: %d > %d", store.CurrentSize(), store.MaxSize())
	}
	mgr.Close(fd3)
}

// TestUnlinkThenOpenReturnsENOENT covers a reopen after unlink seeing the
// remote server's deletion.
func TestUnlinkThenOpenReturnsENOENT(t *testing.T) {
	dir := t.TempDir()
	store := cachestore.New(1 << 20)
	rpc := newFakeRPC()
	rpc.content["g.txt"] = []byte("bye")
	rpc.version["g.txt"] = 0

	mgr := NewManager(store, rpc, pathmap.New(dir))

	if err := mgr.Unlink("g.txt"); err != nil {
		t.Fatalf("unlink: %v", err)
	}

	_, err := mgr.Open("g.txt", Read)
	if err == nil {
		t.Fatalf("expected open after unlink to fail")
	}
	if code := errno.CodeOf(err); code != errno.ENOENT {
		t.Fatalf("open after unlink: code = %v, want ENOENT", code)
	}
}

// TestOpenCreatesCacheSubdirectories covers a logical path nested under a
// subdirectory that does not yet exist anywhere under the cache root: the
// cold fetch, the writer's private temp copy, and the close-time version
// install must each create their own parent directory rather than assume
// the cache root's top level is the only directory ever written to.
func TestOpenCreatesCacheSubdirectories(t *testing.T) {
	dir := t.TempDir()
	store := cachestore.New(1 << 20)
	rpc := newFakeRPC()
	rpc.content["sub/a.txt"] = []byte("original")
	rpc.version["sub/a.txt"] = 0

	mgr := NewManager(store, rpc, pathmap.New(dir))

	fdR, err := mgr.Open("sub/a.txt", Read)
	if err != nil {
		t.Fatalf("cold read open under subdirectory: %v", err)
	}
	if got := readAll(t, mgr, fdR); string(got) != "original" {
		t.Fatalf("read content = %q, want %q", got, "original")
	}
	if err := mgr.Close(fdR); err != nil {
		t.Fatalf("close reader: %v", err)
	}

	fdW, err := mgr.Open("sub/a.txt", Write)
	if err != nil {
		t.Fatalf("write open under subdirectory: %v", err)
	}
	if _, err := mgr.Write(fdW, []byte("updated")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := mgr.Close(fdW); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	if rpc.version["sub/a.txt"] != 1 {
		t.Fatalf("server version = %d, want 1", rpc.version["sub/a.txt"])
	}
	if string(rpc.content["sub/a.txt"][:len("updated")]) != "updated" {
		t.Fatalf("uploaded content does not start with the write")
	}
}

// TestLseekRejectsInvalidPositions covers the lseek EINVAL edge cases.
func TestLseekRejectsInvalidPositions(t *testing.T) {
	dir := t.TempDir()
	store := cachestore.New(1 << 20)
	rpc := newFakeRPC()
	rpc.content["a.txt"] = []byte("0123456789")
	rpc.version["a.txt"] = 0

	mgr := NewManager(store, rpc, pathmap.New(dir))
	fd, err := mgr.Open("a.txt", Read)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mgr.Close(fd)

	if _, err := mgr.Lseek(fd, -1, FromStart); errno.CodeOf(err) != errno.EINVAL {
		t.Fatalf("negative absolute seek should be EINVAL, got %v", err)
	}
	if _, err := mgr.Lseek(fd, 1, FromEnd); errno.CodeOf(err) != errno.EINVAL {
		t.Fatalf("seek past end from FromEnd should be EINVAL, got %v", err)
	}
	pos, err := mgr.Lseek(fd, -2, FromEnd)
	if err != nil {
		t.Fatalf("valid FromEnd seek: %v", err)
	}
	if pos != 8 {
		t.Fatalf("seek position = %d, want 8", pos)
	}
}
