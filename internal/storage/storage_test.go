package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage("https://cdn.example.com")
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "dream-images/p1/1.png", strings.NewReader("png"), 3, "image/png"))
	assert.Equal(t, "https://cdn.example.com/dream-images/p1/1.png", s.GetURL("dream-images/p1/1.png"))

	data, contentType, ok := s.Object("dream-images/p1/1.png")
	require.True(t, ok)
	assert.Equal(t, []byte("png"), data)
	assert.Equal(t, "image/png", contentType)

	assert.Error(t, s.Upload(ctx, "k", strings.NewReader("abc"), 10, "text/plain"))

	require.NoError(t, s.Delete(ctx, "dream-images/p1/1.png"))
	require.NoError(t, s.Delete(ctx, "dream-images/p1/1.png"))
	assert.Equal(t, 0, s.Len())
}

func TestKeyFromURL(t *testing.T) {
	s := NewMemoryStorage("")

	key, ok := KeyFromURL(s, "memory://dreamforge/dream-images/p1/1.png")
	require.True(t, ok)
	assert.Equal(t, "dream-images/p1/1.png", key)

	_, ok = KeyFromURL(s, "https://elsewhere.example.com/a.png")
	assert.False(t, ok)
	_, ok = KeyFromURL(s, "memory://dreamforge/")
	assert.False(t, ok)
}

func TestNewStorageSelectsBackend(t *testing.T) {
	s, err := NewStorage(context.Background(), &S3Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	assert.Equal(t, StorageTypeR2, detectStorageType("https://acc.r2.cloudflarestorage.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType("s3.us-east-1.amazonaws.com"))
	assert.Equal(t, StorageTypeS3Compatible, detectStorageType("localhost:9000"))
}

func TestS3StoragePublicURL(t *testing.T) {
	s, err := NewS3Storage(context.Background(), &S3Config{
		Type:      StorageTypeS3Compatible,
		Endpoint:  "http://localhost:9000/",
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "dreams",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/dreams/a/b.png", s.GetURL("a/b.png"))

	r2, err := NewS3Storage(context.Background(), &S3Config{
		Type:      StorageTypeR2,
		Endpoint:  "acc.r2.cloudflarestorage.com",
		UseSSL:    true,
		Bucket:    "dreams",
		PublicURL: "https://img.example.com/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/a/b.png", r2.GetURL("a/b.png"))
}
