// Command proxy runs the client-side caching proxy:
// proxy <server_addr> <cache_dir> <cache_size_bytes>.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/AdguardTeam/golibs/log"
	"github.com/urfave/cli/v2"

	"github.com/hzj010427/RPC-file-caching-proxy/internal/cachestore"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/config"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/pathmap"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/proxyfront"
	"github.com/hzj010427/RPC-file-caching-proxy/internal/rpcclient"
)

func main() {
	app := &cli.App{
		Name:      "proxy",
		Usage:     "client-side caching proxy in front of a remote file server",
		ArgsUsage: "<server_addr> <cache_dir> <cache_size_bytes>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":9100", Usage: "address to accept client-shim connections on"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.Args().Len() != 3 {
		return fmt.Errorf("usage: proxy <server_addr> <cache_dir> <cache_size_bytes>")
	}
	serverAddr := c.Args().Get(0)
	cacheDir := c.Args().Get(1)
	cacheSize, err := strconv.ParseInt(c.Args().Get(2), 10, 64)
	if err != nil {
		return fmt.Errorf("cache_size_bytes: %w", err)
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("cache_dir: %w", err)
	}

	env, err := config.Load()
	if err != nil {
		return err
	}
	env.Print()

	log.Info("Starting caching proxy against %s, cache_dir=%s, max_size=%d", serverAddr, cacheDir, cacheSize)

	front := &proxyfront.Front{
		Store:       cachestore.New(cacheSize),
		RPC:         rpcclient.NewHTTPClient("http://"+serverAddr, nil),
		Paths:       pathmap.New(cacheDir),
		SessionAddr: c.String("listen"),
		MetricsAddr: env.MetricsAddr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return front.Serve(ctx)
}
