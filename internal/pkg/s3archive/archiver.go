package s3archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// objectPutter is the part of the S3 client the archive uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver stores verified webhook payloads in an S3 bucket.
type Archiver struct {
	client objectPutter
	config *Config
	now    func() time.Time
}

// NewArchiver creates the S3 client for cfg.
func NewArchiver(ctx context.Context, cfg *Config) (*Archiver, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("webhook archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	log.Infof("[S3Archive] Archiving webhook payloads to bucket %s", cfg.BucketName)
	return newArchiver(s3Client, cfg), nil
}

func newArchiver(client objectPutter, cfg *Config) *Archiver {
	return &Archiver{client: client, config: cfg, now: time.Now}
}

// ArchiveWebhookPayload uploads the raw payload of a verified webhook event.
func (a *Archiver) ArchiveWebhookPayload(ctx context.Context, provider, eventID, eventType string, payload []byte) error {
	key := a.config.ObjectKey(provider, eventID, a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"event-type": eventType,
			"provider":   provider,
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	log.Debugf("[S3Archive] Stored %s", key)
	return nil
}
