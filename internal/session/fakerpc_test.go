package session

import (
	"sync"

	"github.com/hzj010427/RPC-file-caching-proxy/internal/errno"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/rpcclient"
)

// fakeRPC is an in-memory stand-in for the remote file server, implementing
// rpcclient.Client directly (no transport) so SessionManager tests can drive
// exact version/content sequences and count probe/chunk calls.
type fakeRPC struct {
	mu sync.Mutex

	content map[string][]byte
	version map[string]int
	dirs    map[string]bool

	downloadCalls int
	probeCalls    int
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		content: map[string][]byte{},
		version: map[string]int{},
		dirs:    map[string]bool{},
	}
}

func (f *fakeRPC) DownloadChunk(logical string, chunkNum int, openOption int, isProbe bool) (rpcclient.ChunkResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if isProbe {
		f.probeCalls++
	} else {
		f.downloadCalls++
	}

	if f.dirs[logical] {
		return rpcclient.ChunkResponse{Valid: true, StatusCode: int(errno.EISDIR)}, nil
	}
	content, ok := f.content[logical]
	if !ok {
		return rpcclient.ChunkResponse{Valid: true, Exists: false, StatusCode: int(errno.ENOENT)}, nil
	}

	resp := rpcclient.ChunkResponse{
		Valid:     true,
		Exists:    true,
		Version:   f.version[logical],
		TotalSize: int64(len(content)),
	}
	if openOption == int(Read) {
		resp.StatusCode = int(errno.ModeR)
	} else {
		resp.StatusCode = int(errno.ModeRW)
	}

	if isProbe {
		resp.IsLast = len(content) == 0
		return resp, nil
	}

	start := chunkNum * rpcclient.ChunkSize
	end := start + rpcclient.ChunkSize
	if start > len(content) {
		start = len(content)
	}
	if end > len(content) {
		end = len(content)
	}
	resp.Data = append([]byte(nil), content[start:end]...)
	resp.ChunkNumber = chunkNum
	resp.IsLast = end >= len(content)
	return resp, nil
}

func (f *fakeRPC) UploadChunk(logical string, data []byte, version, chunkNum int, isLast bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if chunkNum == 0 {
		f.content[logical] = append([]byte(nil), data...)
	} else {
		f.content[logical] = append(f.content[logical], data...)
	}
	if isLast {
		f.version[logical] = version
	}
	return nil
}

func (f *fakeRPC) StatExists(logical string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.content[logical]
	return ok, nil
}

func (f *fakeRPC) StatIsDir(logical string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[logical], nil
}

func (f *fakeRPC) StatVersion(logical string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.content[logical]; !ok {
		return -1, nil
	}
	return f.version[logical], nil
}

func (f *fakeRPC) Delete(logical string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.content[logical]; !ok {
		return false, nil
	}
	delete(f.content, logical)
	delete(f.version, logical)
	return true, nil
}
