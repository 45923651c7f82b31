package repository

import (
	"context"
	"fmt"
	"path"
	"strings"

	"trackus_chat/internal/chat/domain"

	"github.com/google/uuid"
)

// AttachmentRepository stores message images and returns their url
type AttachmentRepository interface {
	UploadImage(ctx context.Context, roomID string, img domain.Image) (string, error)
}

// ObjectStore the subset of *database.MinIOClient used
type ObjectStore interface {
	UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) error
	ObjectURL(objectName string) string
}

type minioAttachmentRepository struct {
	store ObjectStore
}

// NewMinIOAttachmentRepository create AttachmentRepository on a minio bucket
func NewMinIOAttachmentRepository(store ObjectStore) AttachmentRepository {
	return &minioAttachmentRepository{store: store}
}

// UploadImage upload to chat/<roomID>/<uuid>.<ext>
func (r *minioAttachmentRepository) UploadImage(ctx context.Context, roomID string, img domain.Image) (string, error) {
	if len(img.Data) == 0 {
		return "", fmt.Errorf("empty image")
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	object := path.Join("chat", roomID, uuid.New().String()+extension(contentType))
	if err := r.store.UploadBytes(ctx, object, img.Data, contentType); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return r.store.ObjectURL(object), nil
}

func extension(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	}
	return ""
}
