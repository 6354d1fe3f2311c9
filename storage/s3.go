package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// Number of attempts for UploadFile retry loop
const maxUploadAttempts = 3

// S3Config holds configuration for the offsite snapshot bucket. Works with
// AWS S3 and S3-compatible endpoints such as Cloudflare R2 or MinIO.
type S3Config struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Endpoint  string
	Region    string
	BaseURL   string // public URL prefix for uploaded files
}

// S3Storage uploads alert snapshots to an S3-compatible bucket.
type S3Storage struct {
	config   S3Config
	session  *session.Session
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Storage creates a new S3Storage instance
func NewS3Storage(config S3Config) (*S3Storage, error) {
	if config.Region == "" {
		config.Region = "auto"
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		Endpoint:    aws.String(config.Endpoint),
		Region:      aws.String(config.Region),
		// Force path style addressing for compatibility with S3 API
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}

	client := s3.New(sess)

	// Snapshots are small JPEGs, so keep uploads on a single connection.
	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.Concurrency = 1
	})

	return &S3Storage{
		config:   config,
		session:  sess,
		client:   client,
		uploader: uploader,
	}, nil
}

// UploadFile uploads a local file to the bucket and returns its public URL.
func (s *S3Storage) UploadFile(localPath, remotePath string) (string, error) {
	contentType := "application/octet-stream"
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	case ".png":
		contentType = "image/png"
	case ".mp4":
		contentType = "video/mp4"
	case ".ts":
		contentType = "video/mp2t"
	}

	metadata := map[string]*string{
		"OriginalFileName": aws.String(filepath.Base(localPath)),
		"UploadedAt":       aws.String(time.Now().Format(time.RFC3339)),
	}

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		file, err := os.Open(localPath)
		if err != nil {
			return "", fmt.Errorf("failed to open file %s: %v", localPath, err)
		}

		_, err = s.uploader.Upload(&s3manager.UploadInput{
			Bucket:      aws.String(s.config.Bucket),
			Key:         aws.String(remotePath),
			Body:        file,
			ContentType: aws.String(contentType),
			Metadata:    metadata,
		})
		file.Close()
		if err == nil {
			return s.PublicURL(remotePath), nil
		}

		lastErr = err
		log.Printf("[storage] upload attempt %d/%d for %s failed: %v",
			attempt, maxUploadAttempts, localPath, err)
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return "", fmt.Errorf("failed to upload %s after %d attempts: %v", localPath, maxUploadAttempts, lastErr)
}

// PublicURL returns the public URL for a remote path.
func (s *S3Storage) PublicURL(remotePath string) string {
	base := strings.TrimSuffix(s.config.BaseURL, "/")
	if base == "" {
		base = strings.TrimSuffix(s.config.Endpoint, "/") + "/" + s.config.Bucket
	}
	return base + "/" + strings.TrimPrefix(remotePath, "/")
}
