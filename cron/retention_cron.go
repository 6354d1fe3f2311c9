package cron

import (
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BrianShiroe/calbi-luka/archive"
	"github.com/BrianShiroe/calbi-luka/config"
	"github.com/BrianShiroe/calbi-luka/database"
)

// StartRetentionCron initializes a cron job that runs hourly to:
// 1. Delete snapshot rows and files older than the retention window
// 2. Remove aged HLS segments from the playback folders
func StartRetentionCron(cfg *config.Config, db database.Database, archiver *archive.Archiver) {
	go func() {
		// Initial delay before first run
		time.Sleep(10 * time.Second)

		// Run immediately once at startup
		pruneOldRecords(cfg, db, archiver)

		schedule := cron.New()
		_, err := schedule.AddFunc("@every 1h", func() {
			pruneOldRecords(cfg, db, archiver)
		})
		if err != nil {
			log.Fatalf("Error scheduling retention cron: %v", err)
		}

		schedule.Start()
		log.Println("retention : cleanup cron job started - will run every hour")
	}()
}

func pruneOldRecords(cfg *config.Config, db database.Database, archiver *archive.Archiver) {
	cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)
	log.Printf("retention : pruning records older than %s", cutoff.Format("2006-01-02"))

	snapshots, err := db.DeleteSnapshotsBefore(cutoff)
	if err != nil {
		log.Printf("retention : error deleting snapshot rows: %v", err)
	}
	removedFiles := 0
	for _, snap := range snapshots {
		if err := os.Remove(snap.FilePath); err != nil {
			if !os.IsNotExist(err) {
				log.Printf("retention : error removing %s: %v", snap.FilePath, err)
			}
			continue
		}
		removedFiles++
	}

	removedSegments := 0
	if archiver != nil {
		removedSegments, err = archiver.Prune(cutoff)
		if err != nil {
			log.Printf("retention : error pruning segments: %v", err)
		}
	}

	log.Printf("retention : removed %d snapshot rows, %d snapshot files, %d segments",
		len(snapshots), removedFiles, removedSegments)
}
