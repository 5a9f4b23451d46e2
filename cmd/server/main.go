// Command server runs the reference remote file server: server <addr>
// <root_dir>.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/AdguardTeam/golibs/log"
	"github.com/urfave/cli/v2"

	"github.com/hzj010427/RPC-file-caching-proxy/internal/fileserver"
)

func main() {
	app := &cli.App{
		Name:      "server",
		Usage:     "reference remote file server",
		ArgsUsage: "<addr> <root_dir>",
		Action:    run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("usage: server <addr> <root_dir>")
	}
	addr := c.Args().Get(0)
	rootDir := c.Args().Get(1)

	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return fmt.Errorf("root_dir: %w", err)
	}

	log.Info("Starting reference file server on %s, root_dir=%s", addr, rootDir)

	srv := fileserver.New(rootDir)
	return http.ListenAndServe(addr, srv.Handler())
}
