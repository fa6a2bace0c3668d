package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"wikikv/configs"
	"wikikv/network/coordinator"
	"wikikv/network/replica"
	"wikikv/storage"
)

var (
	configPath string
	debug      bool
	logFile    bool
)

func usage() {
	flag.PrintDefaults()
}

func init() {
	flag.StringVar(&configPath, "config", "wikikv.properties", "the node config file")
	flag.BoolVar(&debug, "debug", false, "log debug info")
	flag.BoolVar(&logFile, "log_file", false, "log debug info into a log file instead of stdout")
	flag.Usage = usage
}

func main() {
	flag.Parse()
	configs.ShowDebugInfo = debug
	configs.ShowWarnings = debug
	configs.ShowTestInfo = debug
	if logFile {
		configs.LogToFile = true
		f, err := os.OpenFile(fmt.Sprintf("logs/logfiles_%v.log", time.Now().Format("20060102_150405")),
			os.O_RDWR|os.O_CREATE, 0666)
		if err != nil {
			log.Fatalf("error opening file: %v", err)
		}
		defer f.Close()
		log.SetOutput(io.Writer(f))
	}

	cfg, err := configs.LoadConfig(configPath)
	configs.CheckError(err)

	// A node co-hosting both roles keeps two logs: the coordinator's view
	// of a transaction and the replica's view end in different terminal
	// statuses and must not share conflict-guard state.
	var rep *replica.Server
	if !cfg.IsCoordinator() || cfg.HoldsReplica() {
		repLog, err := storage.OpenTxnLog(filepath.Join(cfg.DataDir, "replica_log"), false)
		configs.CheckError(err)
		defer repLog.Close()
		store, err := storage.NewStore(cfg)
		configs.CheckError(err)
		defer store.Close()
		mgr := replica.NewManager(cfg, store, repLog)
		configs.CheckError(mgr.Restore())
		rep = replica.NewServer(cfg, mgr)
	}

	var srv interface {
		ListenAndServe() error
		Shutdown(ctx context.Context) error
	}
	if cfg.IsCoordinator() {
		coordLog, err := storage.OpenTxnLog(filepath.Join(cfg.DataDir, "coordinator_log"), true)
		configs.CheckError(err)
		defer coordLog.Close()
		pending, err := storage.OpenPendingTable(filepath.Join(cfg.DataDir, "pending"))
		configs.CheckError(err)
		defer pending.Close()
		mgr := coordinator.NewManager(cfg, coordLog, pending)
		// Open rounds left by a crash are resolved before the listener
		// comes up, so no new request can race an old decision.
		configs.CheckError(mgr.Recover())
		srv = coordinator.NewServer(cfg, mgr, rep)
	} else {
		srv = rep
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		configs.CheckError(err)
	case sig := <-sigCh:
		configs.DPrintf("caught %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), configs.HTTPShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			configs.Warn(false, "shutdown: "+err.Error())
		}
	}
}
