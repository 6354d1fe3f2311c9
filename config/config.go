package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config contains process-level configuration loaded once at startup.
// Runtime-mutable streaming settings live in Settings (settings.go).
type Config struct {
	// Server Configuration
	ServerPort string
	BaseURL    string

	// Database Configuration
	DatabasePath string

	// Storage layout
	RecordsPath  string // Alert snapshot images, one directory per camera
	PlaybackPath string // HLS segments + manifest + metadata, one directory per camera

	// Detection model
	ModelDir string // Directory holding <version>.weights/<version>.cfg/<version>.names

	// Capture behaviour
	CaptureRetryLimit    int           // Consecutive open/read failures before a session gives up
	CaptureRetryCooldown time.Duration // Wait between reconnect attempts
	CaptureReadTimeout   time.Duration // Watchdog bound on a single blocking frame read

	// Archiver
	SegmentSeconds   int // HLS segment length
	SegmentKeep      int // Segments kept in the rolling playlist
	RetentionDays    int // Snapshot/segment retention before pruning
	ArchiveQueueSize int // Frames buffered between the pipeline and the ffmpeg pipe

	// External tools
	FFmpegPath string
	YtDlpPath  string

	// Alert sound
	AlertPlayerPath string // Player binary for local audible alerts (ffplay)

	// Serial alarm line (optional hardware siren)
	SerialPort string // Empty disables the serial alarm
	SerialBaud int

	// Push notifications
	PushWebhookURL string // Empty disables push

	// Offsite snapshot backup (S3-compatible, optional)
	S3Enabled   bool
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Endpoint  string
	S3Region    string
	S3BaseURL   string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() Config {
	cfg := Config{
		ServerPort:   getEnv("SERVER_PORT", "5000"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:5000"),
		DatabasePath: getEnv("DATABASE_PATH", "./db/luka.sqlite"),
		RecordsPath:  getEnv("RECORDS_PATH", "./records"),
		PlaybackPath: getEnv("PLAYBACK_PATH", "./playback"),

		ModelDir: getEnv("MODEL_DIR", "./model"),

		CaptureRetryLimit:    getEnvInt("CAPTURE_RETRY_LIMIT", 5),
		CaptureRetryCooldown: time.Duration(getEnvInt("CAPTURE_RETRY_COOLDOWN_SEC", 2)) * time.Second,
		CaptureReadTimeout:   time.Duration(getEnvInt("CAPTURE_READ_TIMEOUT_SEC", 15)) * time.Second,

		SegmentSeconds:   getEnvInt("SEGMENT_SECONDS", 4),
		SegmentKeep:      getEnvInt("SEGMENT_KEEP", 15),
		RetentionDays:    getEnvInt("RETENTION_DAYS", 30),
		ArchiveQueueSize: getEnvInt("ARCHIVE_QUEUE_SIZE", 30),

		FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
		YtDlpPath:       getEnv("YTDLP_PATH", "yt-dlp"),
		AlertPlayerPath: getEnv("ALERT_PLAYER_PATH", "ffplay"),

		SerialPort: getEnv("SERIAL_PORT", ""),
		SerialBaud: getEnvInt("SERIAL_BAUD", 9600),

		PushWebhookURL: getEnv("PUSH_WEBHOOK_URL", ""),

		S3Enabled:   getEnv("S3_ENABLED", "false") == "true",
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Region:    getEnv("S3_REGION", "auto"),
		S3BaseURL:   getEnv("S3_BASE_URL", ""),
	}

	log.Printf("Server running on port %s with base URL %s", cfg.ServerPort, cfg.BaseURL)
	log.Printf("Records path: %s, playback path: %s", cfg.RecordsPath, cfg.PlaybackPath)
	log.Printf("Model dir: %s", cfg.ModelDir)
	if cfg.SerialPort != "" {
		log.Printf("Serial alarm on %s @ %d baud", cfg.SerialPort, cfg.SerialBaud)
	}
	log.Printf("Offsite snapshot backup enabled: %v", cfg.S3Enabled)

	return cfg
}

// EnsurePaths creates necessary directories
func EnsurePaths(cfg Config) {
	dbDir := filepath.Dir(cfg.DatabasePath)
	for _, dir := range []string{dbDir, cfg.RecordsPath, cfg.PlaybackPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("Failed to create directory %s: %v", dir, err)
		}
	}
}

// getEnv returns environment variable or fallback value
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt returns an integer environment variable or fallback value
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Warning: invalid integer for %s: %q, using %d", key, value, fallback)
	}
	return fallback
}
