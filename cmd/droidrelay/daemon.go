//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/1broseidon/droidrelay/internal/config"
	"github.com/1broseidon/droidrelay/internal/daemon"
	"github.com/1broseidon/droidrelay/internal/ipc"
)

// ipcHandler serves IPC requests from the running daemon. Reload re-reads
// the config file the daemon was started with.
type ipcHandler struct {
	*daemon.Daemon
	configPath string
	logLevel   string
}

func (h ipcHandler) Reload(context.Context) error {
	res, err := loadConfigResult(h.configPath)
	if err != nil {
		return err
	}
	if h.logLevel != "" {
		res.Config.LogLevel = h.logLevel
	}
	return h.Daemon.Reload(res.Config)
}

func runDaemon(args []string) int {
	fs := pflag.NewFlagSet("daemon", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Config file path (default: ~/.config/droidrelay/config.yaml)")
	logLevel := fs.String("log-level", "", "Override log_level from the config file")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: droidrelay daemon [--config PATH] [--log-level LEVEL]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Run the relay in the foreground until the primary window closes or")
		fmt.Fprintln(os.Stderr, "SIGINT/SIGTERM arrives. SIGHUP reloads the configuration.")
		fmt.Fprintln(os.Stderr, fs.FlagUsages())
	}
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon takes no arguments")
		fs.Usage()
		return 2
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	res, err := loadConfigResult(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return daemon.CodeConfig
	}
	cfg := res.Config
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return daemon.CodeConfig
	}
	level.Set(cfg.SlogLevel())
	logger.Info("configuration loaded", "files", res.Files, "runtime_dir", cfg.RuntimeDir)

	d, err := daemon.NewFromConfig(cfg, logger, level)
	if err != nil {
		logger.Error("failed to start daemon", "error", err)
		return daemon.ExitCode(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := ipcHandler{Daemon: d, configPath: *configPath, logLevel: *logLevel}
	ipcServer, err := ipc.NewServer(ipc.ServerConfig{Logger: logger}, handler)
	if err == nil {
		err = ipcServer.Start()
	}
	if err != nil {
		// The relay works without its control socket.
		logger.Warn("IPC server unavailable", "error", err)
		ipcServer = nil
	}

	watchPath := *configPath
	if watchPath == "" {
		watchPath, _ = config.DefaultConfigPath()
	}
	if watchPath != "" {
		w, err := config.Watch(watchPath, func(next *config.Config) {
			if *logLevel != "" {
				next.LogLevel = *logLevel
			}
			if err := d.Reload(next); err != nil {
				logger.Warn("config reload rejected", "error", err)
			}
		}, func(err error) {
			logger.Warn("config reload failed", "error", err)
		})
		if err != nil {
			logger.Debug("config watch disabled", "path", watchPath, "error", err)
		} else {
			go w.Run(ctx)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					logger.Info("received SIGHUP, reloading config")
					if err := handler.Reload(ctx); err != nil {
						logger.Warn("config reload failed", "error", err)
					}
					continue
				}
				logger.Info("shutting down", "signal", sig.String())
				d.Stop()
				return
			case <-d.Done():
				return
			}
		}
	}()

	runErr := d.Run(ctx)
	cancel()
	if ipcServer != nil {
		ipcServer.Stop()
	}
	if runErr != nil {
		logger.Error("daemon exited", "error", runErr)
	}
	return daemon.ExitCode(runErr)
}
