// Package rpcclient is the transport-neutral façade over the remote file
// server's chunk RPC: download/upload/stat/delete against a
// server-relative path, with no awareness of local caching policy. Callers
// (internal/session) drive the probe-first fetch protocol and the chunked
// upload loop on top of this interface.
package rpcclient

// ChunkSize is the fixed chunk boundary both sides of the wire protocol
// agree on.
const ChunkSize = 307200

// Status codes a probe's ChunkResponse.StatusCode may carry: the mode
// grants a session is allowed to open with. The negative values reuse
// internal/errno's numbering so a session can hand status_code straight to
// errno.Errno(status) without translation.
const (
	ModeR  = 1
	ModeRW = 2
)

// ChunkResponse is the server's reply to a downloadChunk call.
type ChunkResponse struct {
	Valid       bool
	Exists      bool
	Version     int
	TotalSize   int64
	ChunkNumber int
	IsLast      bool
	Data        []byte
	StatusCode  int
}

// Client is the RPC façade session.Manager drives. Implementations speak
// whatever transport they like; HTTPClient provides the one this repo
// ships.
type Client interface {
	// DownloadChunk fetches one chunk of logical. When isProbe is true, no
	// payload is requested; the response carries version/total_size/status
	// only, for the probe-first fetch.
	DownloadChunk(logical string, chunkNum int, openOption int, isProbe bool) (ChunkResponse, error)

	// UploadChunk streams one chunk of a new version of logical. Callers
	// drive chunkNum from 0 upward and set isLast on the final call.
	UploadChunk(logical string, data []byte, version, chunkNum int, isLast bool) error

	// StatExists reports whether logical currently exists on the server.
	StatExists(logical string) (bool, error)

	// StatIsDir reports whether logical names a directory on the server.
	StatIsDir(logical string) (bool, error)

	// StatVersion returns the server's current version of logical, or -1
	// if it does not exist.
	StatVersion(logical string) (int, error)

	// Delete asks the server to remove logical, returning whether it
	// granted the deletion.
	Delete(logical string) (bool, error)
}
