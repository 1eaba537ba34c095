package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/linechat/internal/pidfile"
	"github.com/Tyrowin/linechat/internal/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("chat-server", flag.ContinueOnError)
	start := fs.Bool("start", false, "start the chat server")
	stop := fs.Bool("stop", false, "stop the running chat server")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s --start | --stop\n", os.Args[0])
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *start == *stop || fs.NArg() != 0 {
		fs.Usage()
		return 1
	}

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	if *stop {
		return stopServer(cfg)
	}
	return startServer(cfg)
}

func stopServer(cfg *server.Config) int {
	pid, err := pidfile.Stop(cfg.PIDFile)
	if err != nil {
		if errors.Is(err, pidfile.ErrNotRunning) {
			fmt.Println("Server is not running")
		} else {
			fmt.Printf("Failed to stop server: %v\n", err)
		}
		return 1
	}
	fmt.Printf("Server stopped (PID: %d)\n", pid)
	return 0
}

func startServer(cfg *server.Config) int {
	logger := server.NewLogger(cfg.Env, os.Stdout)

	lock, err := pidfile.Acquire(cfg.PIDFile)
	if err != nil {
		var running *pidfile.AlreadyRunningError
		if errors.As(err, &running) {
			fmt.Printf("Server already running with PID %d\n", running.PID)
		} else {
			logger.Error("pid file", "err", err)
		}
		return 1
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("pid file release", "err", err)
		}
	}()

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var opts []server.Option
	if cfg.RedisAddr != "" {
		mirror, err := server.NewRedisMirror(ctx, *cfg, logger)
		if err != nil {
			logger.Error("redis mirror", "err", err)
			return 1
		}
		opts = append(opts, server.WithMirror(mirror))
	}

	srv := server.New(*cfg, logger, opts...)
	fmt.Printf("Starting server on %s...\n", cfg.ChatAddr)
	if err := srv.Start(ctx); err != nil {
		logger.Error("server start", "err", err)
		return 1
	}

	served := make(chan error, 1)
	go func() { served <- srv.Wait() }()

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-served:
		if err != nil {
			logger.Error("server stopped unexpectedly", "err", err)
			code = 1
		}
	}

	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("shutdown", "err", err)
	}
	return code
}
