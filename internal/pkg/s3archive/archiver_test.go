package s3archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	b, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveWebhookPayload(t *testing.T) {
	putter := &fakePutter{}
	a := newArchiver(putter, &Config{BucketName: "sprayops-archive", Prefix: "webhooks", Enabled: true})
	a.now = func() time.Time { return time.Date(2025, 3, 7, 23, 30, 0, 0, time.FixedZone("PST", -8*3600)) }

	payload := []byte(`{"id":"evt_1"}`)
	require.NoError(t, a.ArchiveWebhookPayload(context.Background(), "stripe", "evt_1", "invoice.paid", payload))

	require.NotNil(t, putter.input)
	assert.Equal(t, "sprayops-archive", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "webhooks/stripe/2025/03/08/evt_1.json", aws.ToString(putter.input.Key))
	assert.Equal(t, "application/json", aws.ToString(putter.input.ContentType))
	assert.Equal(t, "invoice.paid", putter.input.Metadata["event-type"])
	assert.Equal(t, payload, putter.body)
}

func TestArchiveWebhookPayload_Error(t *testing.T) {
	boom := errors.New("boom")
	a := newArchiver(&fakePutter{err: boom}, &Config{BucketName: "b", Enabled: true})

	err := a.ArchiveWebhookPayload(context.Background(), "stripe", "evt_2", "invoice.paid", []byte("{}"))
	assert.ErrorIs(t, err, boom)
}

func TestObjectKey_NoPrefix(t *testing.T) {
	c := &Config{}
	at := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "stripe/2025/12/01/evt_9.json", c.ObjectKey("stripe", "evt_9", at))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("S3_ARCHIVE_ENABLED", "true")
	t.Setenv("S3_ARCHIVE_ACCESS_KEY_ID", "key")
	t.Setenv("S3_ARCHIVE_SECRET_ACCESS_KEY", "secret")
	t.Setenv("S3_ARCHIVE_BUCKET", "")

	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("S3_ARCHIVE_BUCKET", "sprayops-archive")
	t.Setenv("S3_ARCHIVE_PREFIX", "/payloads/")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "payloads", cfg.Prefix)
}

func TestNewArchiver_Disabled(t *testing.T) {
	_, err := NewArchiver(context.Background(), &Config{})
	assert.Error(t, err)
}
