package proxyfront

import (
	"github.com/hzj010427/RPC-file-caching-proxy/internal/errno"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/session"
)

// Op names the client-shim operation a Request carries, mirroring the
// client-facing syscall API. The wire format itself is this repo's own
// choice; see DESIGN.md.
type Op string

const (
	OpOpen       Op = "open"
	OpRead       Op = "read"
	OpWrite      Op = "write"
	OpLseek      Op = "lseek"
	OpClose      Op = "close"
	OpUnlink     Op = "unlink"
	OpClientDone Op = "client_done"
)

// Request is one client-shim call, gob-encoded over the session connection.
type Request struct {
	Op      Op
	Logical string
	Option  int
	Whence  int
	Offset  int64
	FD      int
	Len     int // requested read size
	Data    []byte
}

// Response carries the result of a Request. Err is 0 on success, or one of
// internal/errno's negative codes.
type Response struct {
	FD   int
	N    int
	Pos  int64
	Data []byte
	Err  int
}

func errCode(err error) int {
	if err == nil {
		return 0
	}
	return int(errno.CodeOf(err))
}

// dispatch routes one Request to the matching session.Manager method.
func dispatch(mgr *session.Manager, req Request) Response {
	switch req.Op {
	case OpOpen:
		fd, err := mgr.Open(req.Logical, session.OpenOption(req.Option))
		return Response{FD: fd, Err: errCode(err)}

	case OpRead:
		buf := make([]byte, req.Len)
		n, err := mgr.Read(req.FD, buf)
		return Response{N: n, Data: buf[:n], Err: errCode(err)}

	case OpWrite:
		n, err := mgr.Write(req.FD, req.Data)
		return Response{N: n, Err: errCode(err)}

	case OpLseek:
		pos, err := mgr.Lseek(req.FD, req.Offset, session.Whence(req.Whence))
		return Response{Pos: pos, Err: errCode(err)}

	case OpClose:
		err := mgr.Close(req.FD)
		return Response{Err: errCode(err)}

	case OpUnlink:
		err := mgr.Unlink(req.Logical)
		return Response{Err: errCode(err)}

	case OpClientDone:
		mgr.ClientDone()
		return Response{}

	default:
		return Response{Err: int(-1)} // EPERM: unrecognized operation
	}
}
