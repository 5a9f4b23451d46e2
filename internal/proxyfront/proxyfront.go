// Package proxyfront implements ProxyFront: it accepts client-shim
// connections, allocates one session.Manager per client, and routes that
// client's operations to it. Operations from a single client are
// serialized by construction, one goroutine per connection decoding
// requests off the wire in order.
//
// Serve listens for client connections and, if configured, a metrics
// handler, coordinating their shutdown with golang.org/x/sync/errgroup.
package proxyfront

import (
	"context"
	"encoding/gob"
	"net"
	"net/http"

	"github.com/AdguardTeam/golibs/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hzj010427/RPC-file-caching-proxy/internal/cachestore"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/pathmap"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/rpcclient"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/session"
)

// Front owns the shared CacheStore and RpcClient every client's
// session.Manager is built against.
type Front struct {
	Store *cachestore.Store
	RPC   rpcclient.Client
	Paths pathmap.Mapper

	SessionAddr string // address to accept client-shim connections on
	MetricsAddr string // address to serve /metrics on; empty disables it
}

// Serve runs the session-accepting loop and, if MetricsAddr is set, the
// metrics HTTP server, until ctx is canceled. It returns the first error
// from either, after both have been asked to stop.
func (fr *Front) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	ln, err := net.Listen("tcp", fr.SessionAddr)
	if err != nil {
		return err
	}

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		return fr.acceptLoop(ctx, ln)
	})

	if fr.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: fr.MetricsAddr, Handler: mux}

		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

func (fr *Front) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go fr.handleConn(conn)
	}
}

func (fr *Front) handleConn(conn net.Conn) {
	defer conn.Close()

	mgr := session.NewManager(fr.Store, fr.RPC, fr.Paths)
	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			mgr.ClientDone()
			return
		}

		resp := dispatch(mgr, req)
		if err := enc.Encode(&resp); err != nil {
			log.Error("proxyfront: encode response for %s: %v", req.Op, err)
			mgr.ClientDone()
			return
		}
	}
}
