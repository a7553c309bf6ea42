package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/adapter/web"
	"github.com/staffdrive/staffdrive/pkg/api"
	"github.com/staffdrive/staffdrive/pkg/config"
	"github.com/staffdrive/staffdrive/pkg/server"
)

const usage = `StaffDrive - employee file storage

Usage:
  staffdrive [-config path]         Run the server
  staffdrive init [-force]          Write a default configuration file

`

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	flags := flag.NewFlagSet("staffdrive", flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	configPath := flags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/staffdrive/config.yaml)")
	_ = flags.Parse(os.Args[1:])

	if err := run(*configPath); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func runInit(args []string) error {
	flags := flag.NewFlagSet("init", flag.ExitOnError)
	force := flags.Bool("force", false, "Overwrite an existing config file")
	path := flags.String("config", "", "Write to this path instead of the default location")
	_ = flags.Parse(args)

	if *path != "" {
		if err := config.InitConfigToPath(*path, *force); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", *path)
		return nil
	}

	written, err := config.InitConfig(*force)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", written)
	return nil
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("StaffDrive starting: backend=%s, directory=%s", cfg.Backend.Type, cfg.Directory.Type)

	m := config.InitializeMetrics(cfg)

	b, err := config.CreateBackend(ctx, cfg, m)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}
	fs := config.CreateFS(cfg, b.Backend, m)

	dir, err := config.CreateDirectory(ctx, &cfg.Directory)
	if err != nil {
		_ = fs.Close()
		return fmt.Errorf("failed to create employee directory: %w", err)
	}

	authn, err := config.CreateAuthenticator(&cfg.Auth)
	if err != nil {
		_ = dir.Close()
		_ = fs.Close()
		return err
	}

	handler, err := api.New(config.APIConfig(cfg), api.Deps{
		FS:          fs,
		Credentials: b.Credentials,
		Directory:   dir,
		Auth:        authn,
		Links:       b.LinkVerifier(),
		Metrics:     m.HTTP,
	})
	if err != nil {
		_ = dir.Close()
		_ = fs.Close()
		return fmt.Errorf("failed to create API: %w", err)
	}

	srv := server.New(fs, b.Credentials)
	srv.StopTimeout = cfg.Server.ShutdownTimeout
	srv.OnShutdown(dir)
	srv.OnShutdown(handler)

	if err := srv.AddAdapter(web.New(web.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler.Routes())); err != nil {
		return err
	}
	if m.Server != nil {
		if err := srv.AddAdapter(m.Server); err != nil {
			return err
		}
	}
	if b.Collector != nil {
		srv.AddService(b.Collector)
	}

	logger.Info("Public URL: %s", cfg.Server.PublicURL)
	return srv.Serve(ctx)
}
