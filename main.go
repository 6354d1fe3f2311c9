package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/BrianShiroe/calbi-luka/alert"
	"github.com/BrianShiroe/calbi-luka/api"
	"github.com/BrianShiroe/calbi-luka/archive"
	"github.com/BrianShiroe/calbi-luka/config"
	croncfg "github.com/BrianShiroe/calbi-luka/cron"
	"github.com/BrianShiroe/calbi-luka/database"
	"github.com/BrianShiroe/calbi-luka/detect"
	"github.com/BrianShiroe/calbi-luka/monitor"
	"github.com/BrianShiroe/calbi-luka/signaling"
	"github.com/BrianShiroe/calbi-luka/source"
	"github.com/BrianShiroe/calbi-luka/storage"
	"github.com/BrianShiroe/calbi-luka/stream"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.LoadConfig()
	config.EnsurePaths(cfg)

	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}
	defer db.Close()

	settings := config.NewSettingsStore(db)

	// The model load is best effort so a missing weights file never blocks
	// startup; streams simply run without detection until a swap succeeds.
	detector := detect.NewAdapter(detect.NewDNNLoader(cfg.ModelDir))
	if err := detector.Swap(settings.Get().ModelVersion); err != nil {
		log.Printf("Detection model not loaded: %v", err)
	}
	defer detector.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := monitor.New(0)
	mon.Start(ctx)

	var uploader alert.Uploader
	if cfg.S3Enabled {
		s3, err := storage.NewS3Storage(storage.S3Config{
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			BaseURL:   cfg.S3BaseURL,
		})
		if err != nil {
			log.Printf("Offsite storage disabled: %v", err)
		} else {
			uploader = s3
		}
	}

	var alarm alert.AlarmPulser
	if cfg.SerialPort != "" {
		serialAlarm := signaling.NewSerialAlarm(cfg.SerialPort, cfg.SerialBaud)
		defer serialAlarm.Close()
		alarm = serialAlarm
	}

	recorder := alert.NewRecorder(&cfg, settings, db, uploader, alarm)
	archiver := archive.NewArchiver(&cfg)
	resolver := source.NewResolver(cfg.YtDlpPath)
	manager := stream.NewManager(&cfg, settings, resolver, detector, recorder, archiver, mon.HostCPUPercent)

	croncfg.StartRetentionCron(&cfg, db, archiver)

	server := api.NewServer(&cfg, settings, db, manager, detector, mon)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		manager.StopAll()
		archiver.StopAll()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
