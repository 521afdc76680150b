package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"ftpgateway/api"
	"ftpgateway/config"
	"ftpgateway/core"
	"ftpgateway/logging"
)

func main() {
	app := &cli.App{
		Name:  "ftpgateway",
		Usage: "HTTP gateway for remote file operations over FTP, FTPS and SFTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to config file (TOML)"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			historyCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "listen address, overrides server.listen"},
			&cli.StringFlag{Name: "log-level", Usage: "log level, overrides log.level"},
		},
		Action: serve,
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Print the most recent operations from the journal",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "number of records to show (0 = all)"},
		},
		Action: printHistory,
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if v := c.String("listen"); v != "" {
		cfg.Server.Listen = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}

	log, err := logging.New(cfg.Log.Level, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var hm *core.HistoryManager
	if cfg.History.Path != "" {
		hm = core.NewHistoryManager(cfg.History.Path, cfg.History.MaxRecords)
		if err := hm.Load(); err != nil {
			log.Warn("failed to load history", zap.String("path", cfg.History.Path), zap.Error(err))
		}
	}
	runner := core.NewRunner(hm, cfg.History.Schedule, cfg.History.RetentionDays, log)
	if err := runner.Start(); err != nil {
		return fmt.Errorf("schedule history maintenance: %w", err)
	}
	defer runner.Stop()

	gw := core.NewGateway(
		&core.Dialer{
			Timeout:               cfg.DialTimeout(),
			TLSInsecureSkipVerify: cfg.Session.TLSInsecureSkipVerify,
			LocalRoot:             cfg.Local.Root,
		},
		core.NewResolver(cfg.Session.Protocols),
		core.NewConduit(cfg.Transfer.ChunkSize, cfg.Transfer.BufferDepth, cfg.Transfer.MaxBytesPerSecond),
		hm,
		log,
	)
	srv := api.NewServer(cfg.Server, api.NewHandler(gw, cfg.Server.MaxBodyBytes, log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", zap.String("addr", cfg.Server.Listen), zap.String("route", cfg.Server.Route))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown interrupted", zap.Error(err))
		_ = srv.Close()
	}
	return nil
}

func printHistory(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return cli.Exit("history is disabled: set history.path or FTPGW_HISTORY_PATH", 1)
	}

	hm := core.NewHistoryManager(cfg.History.Path, cfg.History.MaxRecords)
	if err := hm.Load(); err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	table := tablewriter.NewWriter(c.App.Writer)
	table.SetHeader([]string{"Started", "Operation", "Host", "Path", "Status", "Size", "Duration"})
	for _, rec := range hm.Recent(c.Int("limit")) {
		table.Append([]string{
			rec.StartedAt.Local().Format(time.DateTime),
			rec.Operation,
			rec.Host,
			rec.Path,
			rec.Status,
			humanize.Bytes(uint64(rec.Bytes)),
			strconv.FormatInt(rec.DurationMs, 10) + "ms",
		})
	}
	table.Render()
	return nil
}
