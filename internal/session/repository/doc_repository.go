package repository

import (
	"context"
	"fmt"
	"io"
	"time"

	"study_sync_service/pkg/database"
)

const docURLExpiry = 24 * time.Hour

// DocumentRepository definition study document storage
type DocumentRepository interface {
	UploadDoc(ctx context.Context, roomID, docName string, r io.Reader, size int64, contentType string) error
	PresignDoc(ctx context.Context, roomID, docName string) (string, error)
}

type minioDocRepository struct {
	mc *database.MinIOClient
}

// NewMinioDocRepository create a minio-backed document repository
func NewMinioDocRepository(mc *database.MinIOClient) DocumentRepository {
	return &minioDocRepository{mc: mc}
}

// UploadDoc store the shared document under the room's prefix
func (r *minioDocRepository) UploadDoc(ctx context.Context, roomID, docName string, reader io.Reader, size int64, contentType string) error {
	return r.mc.UploadStream(ctx, objectName(roomID, docName), reader, size, contentType)
}

// PresignDoc presigned read URL for the room's document
func (r *minioDocRepository) PresignDoc(ctx context.Context, roomID, docName string) (string, error) {
	return r.mc.PresignGetURL(ctx, objectName(roomID, docName), docURLExpiry)
}

func objectName(roomID, docName string) string {
	return fmt.Sprintf("%s/%s", roomID, docName)
}
