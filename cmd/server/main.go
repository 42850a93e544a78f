package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	httpserver "github.com/beatline/syncserver/server/http"
	"github.com/beatline/syncserver/server/tcp"
)

var (
	// default build fields populated by GoReleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func init() {
	cfgFile := flag.String("config", "settings.env", "Path to config file")
	showHelp := flag.Bool("help", false, "Display help")
	showVersion := flag.Bool("version", false, "Display build information")

	flag.Parse()

	switch {
	case *showVersion:
		fmt.Printf("%-10s %s\n", "version:", version)
		fmt.Printf("%-10s %s\n", "commit:", commit)
		fmt.Printf("%-10s %s\n", "date:", date)
		os.Exit(0)
	case *showHelp:
		flag.PrintDefaults()
		os.Exit(0)
	}

	// optionally populate environment variables with config file
	if err := godotenv.Load(*cfgFile); err != nil {
		fmt.Printf("Config file (%s) not found, defaulting to env vars for app config...\n", *cfgFile)
	} else {
		fmt.Printf("Successfully loaded config file (%s)\n", *cfgFile)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := MakeCommonDeps()
	if err != nil {
		fmt.Printf("startup failed: %s\n", err)
		os.Exit(1)
	}
	defer deps.auditStore.Close()

	if deps.cfg.ServerAnnouncement != "" {
		deps.logger.Info("server announcement configured", "text", deps.cfg.ServerAnnouncement)
	}

	g, ctx := errgroup.WithContext(ctx)

	var tcpSrv *tcp.Server
	var adminSrv *httpserver.Server

	if deps.cfg.TCPEnabled {
		tcpSrv = TCP(deps)
		g.Go(tcpSrv.ListenAndServe)
	}
	if deps.cfg.EnableWebServer {
		adminSrv = AdminHTTP(deps)
		g.Go(adminSrv.ListenAndServe)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if tcpSrv != nil {
		_ = tcpSrv.Shutdown(shutdownCtx)
	}
	if adminSrv != nil {
		_ = adminSrv.Shutdown(shutdownCtx)
	}

	if err := g.Wait(); err != nil {
		deps.logger.Error("server initialization failed", "err", err.Error())
		os.Exit(1)
	}
}
