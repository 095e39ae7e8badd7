package main

import (
	"context"
	"time"

	"github.com/cppla/bookswap/config"
	"github.com/cppla/bookswap/messaging"
	"github.com/cppla/bookswap/routes"
	"github.com/cppla/bookswap/services"
	"github.com/cppla/bookswap/storage"
	"github.com/cppla/bookswap/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(cfg)
	utils.InitRedis(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	files, err := storage.New(ctx, cfg)
	if err != nil {
		utils.Sugar.Fatalf("failed to open %s file storage: %v", cfg.StorageBackend, err)
	}

	var events services.Publisher
	var bus *messaging.Bus
	if cfg.NATSURL != "" {
		if bus, err = messaging.Connect(cfg.NATSURL, utils.Logger); err != nil {
			// listing events and tag search over NATS are optional
			utils.Sugar.Warnf("NATS unavailable, running without it: %v", err)
			bus = nil
		} else {
			events = bus
		}
	}

	coord := services.NewCoordinator(db, files, services.Limits{
		MaxTags:        cfg.ListingMaxTags,
		MaxEditDelta:   cfg.ListingMaxEditDelta,
		TxTimeout:      time.Duration(cfg.TxTimeoutSeconds) * time.Second,
		CleanupTimeout: time.Duration(cfg.CleanupTimeoutSeconds) * time.Second,
	}, utils.Logger, events)

	if bus != nil {
		if _, err := bus.ServeTagSearch(coord); err != nil {
			utils.Sugar.Warnf("tag search responder not started: %v", err)
		}
	}

	// Purge files of detached images in the background (best-effort)
	utils.StartImageSweeper(ctx, db, files,
		time.Duration(cfg.ImageSweepIntervalMinutes)*time.Minute,
		time.Duration(cfg.ImageRetentionHours)*time.Hour)

	r := routes.SetupRouter(cfg, db, coord, files)

	srv := utils.NewServer(":"+cfg.AppPort, r, utils.DEFAULT_READ_TIMEOUT, utils.DEFAULT_WRITE_TIMEOUT)
	srv.OnShutdown(func(context.Context) { cancel() })
	srv.OnShutdown(func(ctx context.Context) {
		if err := coord.Drain(ctx); err != nil {
			utils.Sugar.Warnf("orphan cleanup did not finish: %v", err)
		}
	})
	if bus != nil {
		srv.OnShutdown(func(context.Context) { bus.Close() })
	}
	if closer, ok := files.(interface{ Close(context.Context) error }); ok {
		srv.OnShutdown(func(ctx context.Context) {
			if err := closer.Close(ctx); err != nil {
				utils.Sugar.Warnf("close file storage: %v", err)
			}
		})
	}

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := srv.ListenAndServe(); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
