package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/Luneo19/luneo-platform-sub027/config"
)

// S3Service publishes finished artifacts to durable storage and returns
// their public URLs.
type S3Service struct {
	session  *session.Session
	bucket   string
	region   string
	cdnBase  string
	endpoint string
	uploader *s3manager.Uploader
}

func NewS3Service(cfg *config.Config) *S3Service {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSS3AccessKey,
			cfg.AWSS3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess := session.Must(session.NewSession(awsCfg))

	return &S3Service{
		session:  sess,
		bucket:   cfg.S3Bucket,
		region:   cfg.S3Region,
		cdnBase:  cfg.CDNBaseURL,
		endpoint: cfg.S3Endpoint,
		uploader: s3manager.NewUploader(sess),
	}
}

// Upload stores the artifact at key and returns its public URL.
func (s *S3Service) Upload(ctx context.Context, localPath, key, contentType string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})

	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return s.PublicURL(key), nil
}

// PublicURL resolves the externally reachable URL for a stored key: the
// CDN when one is configured, the custom endpoint for MinIO-style
// deployments, or the bucket's standard S3 URL.
func (s *S3Service) PublicURL(key string) string {
	if s.cdnBase != "" {
		return strings.TrimRight(s.cdnBase, "/") + "/" + key
	}
	if s.endpoint != "" {
		return strings.TrimRight(s.endpoint, "/") + "/" + s.bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
