package objectclient

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/markdave123-py/docchat/internal/config"
)

func TestMemoryClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClient()

	url, err := m.UploadFile(ctx, "users/u1/documents/d1/a.txt", strings.NewReader("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "memory://users/u1/documents/d1/a.txt", url)

	b, err := m.GetFile(ctx, "users/u1/documents/d1/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	require.NoError(t, m.DeleteFile(ctx, "users/u1/documents/d1/a.txt"))
	assert.False(t, m.Has("users/u1/documents/d1/a.txt"))
	_, err = m.GetFile(ctx, "users/u1/documents/d1/a.txt")
	assert.Error(t, err)
}

func TestObjectURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		key      string
		want     string
	}{
		{"aws", "", "users/u1/a b.pdf", "https://bucket.s3.us-east-2.amazonaws.com/users/u1/a%20b.pdf"},
		{"custom endpoint", "http://localhost:9000", "users/u1/a.pdf", "http://localhost:9000/bucket/users/u1/a.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, objectURL(tt.endpoint, "bucket", "us-east-2", tt.key))
		})
	}
}

func TestNewS3Client_RequiresCredentials(t *testing.T) {
	_, err := NewS3Client(context.Background(), &cfg.Config{AwsRegion: "us-east-2", BucketName: "b"}, nil)
	assert.Error(t, err)

	_, err = NewS3Client(context.Background(), &cfg.Config{AwsAccessKey: "a", AwsSecretKey: "s", BucketName: "b"}, nil)
	assert.Error(t, err)
}
