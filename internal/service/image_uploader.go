package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"

	"github.com/timmy/dreamforge/internal/storage"
	_ "golang.org/x/image/webp"
)

// StorageUploader implements ImageUploader on top of object storage.
type StorageUploader struct {
	storage storage.ObjectStorage
}

// NewStorageUploader creates an uploader bound to store.
func NewStorageUploader(store storage.ObjectStorage) *StorageUploader {
	return &StorageUploader{storage: store}
}

// UploadImage stores data under folder/key and returns its public URL.
func (u *StorageUploader) UploadImage(ctx context.Context, data []byte, target UploadTarget) (string, error) {
	key := path.Join(target.Folder, target.Key)
	contentType := target.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := u.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", fmt.Errorf("failed to upload image %s: %w", key, err)
	}
	return u.storage.GetURL(key), nil
}

// Delete removes a previously uploaded image by URL. URLs that do not belong
// to the storage are ignored.
func (u *StorageUploader) Delete(ctx context.Context, url string) error {
	key, ok := storage.KeyFromURL(u.storage, url)
	if !ok {
		return nil
	}
	return u.storage.Delete(ctx, key)
}

// detectImageFormat sniffs the encoded image and returns its format name
// and content type.
func detectImageFormat(data []byte) (string, string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("unrecognised image data: %w", err)
	}
	return format, getContentType(format), nil
}

func getContentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func formatExtension(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}
