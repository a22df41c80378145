package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/onkernel/rtp-recorder/cmd/api/api"
	"github.com/onkernel/rtp-recorder/cmd/config"
	"github.com/onkernel/rtp-recorder/lib/backup"
	"github.com/onkernel/rtp-recorder/lib/connector"
	"github.com/onkernel/rtp-recorder/lib/emailer"
	"github.com/onkernel/rtp-recorder/lib/lifetime"
	"github.com/onkernel/rtp-recorder/lib/logger"
	"github.com/onkernel/rtp-recorder/lib/playback"
	"github.com/onkernel/rtp-recorder/lib/recordingdb"
	"github.com/onkernel/rtp-recorder/lib/rtptype"
	"github.com/onkernel/rtp-recorder/lib/scheduler"
	"github.com/onkernel/rtp-recorder/lib/venue"
	"github.com/onkernel/rtp-recorder/lib/zstdutil"
)

func main() {
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load configuration from environment variables
	config, err := config.Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	slogger.Info("server configuration", "config", config)

	// context cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.AddToContext(ctx, slogger)

	types := rtptype.Default()
	if config.RTPTypesFile != "" {
		if err := types.LoadFile(config.RTPTypesFile); err != nil {
			slogger.Error("failed to load rtp types", "err", err)
			os.Exit(1)
		}
	}

	venues := venue.NewDirectory()
	if config.VenuesFile != "" {
		if venues, err = venue.LoadFile(config.VenuesFile); err != nil {
			slogger.Error("failed to load venues", "err", err)
			os.Exit(1)
		}
	}

	var connOpts connector.Options
	if config.MulticastInterface != "" {
		if connOpts.Interface, err = net.InterfaceByName(config.MulticastInterface); err != nil {
			slogger.Error("unknown multicast interface", "interface", config.MulticastInterface, "err", err)
			os.Exit(1)
		}
	}

	var mail emailer.Emailer = emailer.Log{}
	if config.SMTPAddr != "" {
		mail = &emailer.SMTP{
			Addr:     config.SMTPAddr,
			From:     config.SMTPFrom,
			Username: config.SMTPUsername,
			Password: config.SMTPPassword,
		}
	}

	db, err := recordingdb.Open(ctx, config.DBPath, config.RecordingsDir)
	if err != nil {
		slogger.Error("failed to open recording database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	pool := connector.NewPool(connector.UDPFactory(connOpts))
	sched := scheduler.New(ctx, db, pool, types, scheduler.WithVenues(venues), scheduler.WithEmailer(mail))
	db.AddUnfinishedRecordingListener(sched)

	life := lifetime.New(ctx, db, lifetime.WithEmailer(mail))
	db.AddRecordingListener(life)

	var (
		worker    *backup.Worker
		aclWorker *backup.ACLWorker
		backlog   api.Backlog
	)
	g, gctx := errgroup.WithContext(ctx)
	if config.BackupEnabled {
		worker, err = backup.NewWorker(ctx, config.BackupDir, backup.WithRetryInterval(config.BackupRetryInterval))
		if err != nil {
			slogger.Error("failed to start backup", "err", err)
			os.Exit(1)
		}
		db.AddRecordingListener(worker)
		backlog = worker

		if config.SecurityDir != "" {
			aclWorker, err = backup.NewACLWorker(ctx, config.SecurityDir, filepath.Join(config.BackupDir, ".security"),
				backup.WithRetryInterval(config.BackupRetryInterval))
			if err != nil {
				slogger.Error("failed to start acl backup", "err", err)
				os.Exit(1)
			}
			watcher, err := backup.NewACLWatcher(config.SecurityDir, aclWorker)
			if err != nil {
				slogger.Error("failed to watch security directory", "err", err)
				os.Exit(1)
			}
			g.Go(func() error {
				return watcher.Run(gctx)
			})
		}
	}

	// re-arm state persisted by a previous run
	recs, err := db.AllRecordings(ctx)
	if err != nil {
		slogger.Error("failed to list recordings", "err", err)
		os.Exit(1)
	}
	for _, rec := range recs {
		life.Schedule(ctx, rec)
		if worker != nil {
			worker.RecordingAdded(ctx, rec)
		}
	}
	for _, def := range db.ListUnfinishedRecordings("") {
		sched.Schedule(ctx, def)
	}

	engine := playback.NewEngine(venues)

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.Logger,
		chiMiddleware.Recoverer,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxWithLogger := logger.AddToContext(r.Context(), slogger)
				next.ServeHTTP(w, r.WithContext(ctxWithLogger))
			})
		},
	)

	apiService := api.New(db, sched, engine, backlog, zstdutil.CompressionLevel(config.ExportCompression))
	apiService.Routes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: r,
	}

	go func() {
		slogger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogger.Error("http server failed", "err", err)
			stop()
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	slogger.Info("shutdown signal received")

	shutdownCtx := context.WithoutCancel(ctx)
	g.Go(func() error {
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return apiService.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		life.Shutdown()
		// captures finalize before their connectors go away
		if err := sched.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return pool.CloseAll(shutdownCtx)
	})
	if worker != nil {
		g.Go(func() error {
			return worker.Shutdown(shutdownCtx)
		})
	}
	if aclWorker != nil {
		g.Go(func() error {
			return aclWorker.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		slogger.Error("server failed to shutdown", "err", err)
	}
}
