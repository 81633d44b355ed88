package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"chatsync/server/chatsync/domain"
	commonlog "chatsync/server/common/log"
)

const (
	thumbnailSize      = 320
	defaultMaxUpload   = 25 << 20
	defaultPresignTTL  = 24 * time.Hour
	attachmentKeyRoot  = "chat"
	thumbnailKeySuffix = "_thumb.jpg"
)

var (
	ErrAttachmentTooLarge = errors.New("attachment exceeds the upload limit")
	ErrAttachmentEmpty    = errors.New("attachment is empty")
	ErrAttachmentRead     = errors.New("attachment could not be read")
	// ErrAttachmentStorage marks failures of the object store itself.
	ErrAttachmentStorage = errors.New("attachment storage failed")
)

type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// AttachmentUploader stores chat attachments in object storage before the
// message referencing them is sent.
type AttachmentUploader struct {
	store      objectStore
	bucket     string
	maxBytes   int64
	presignTTL time.Duration
}

func NewAttachmentUploader(store objectStore, bucket string, maxBytes int64) *AttachmentUploader {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUpload
	}
	return &AttachmentUploader{store: store, bucket: bucket, maxBytes: maxBytes, presignTTL: defaultPresignTTL}
}

func (u *AttachmentUploader) Upload(ctx context.Context, groupID, fileName, contentType string, r io.Reader) (domain.Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, u.maxBytes+1))
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("%w: %w", ErrAttachmentRead, err)
	}
	if int64(len(data)) > u.maxBytes {
		return domain.Attachment{}, ErrAttachmentTooLarge
	}
	if len(data) == 0 {
		return domain.Attachment{}, ErrAttachmentEmpty
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.NewString()
	fileName = filepath.Base(strings.TrimSpace(fileName))
	objectKey := path.Join(attachmentKeyRoot, groupID, id+strings.ToLower(filepath.Ext(fileName)))
	_, err = u.store.PutObject(ctx, u.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		commonlog.Errorf("event=chatsync_attachment action=upload status=failed group_id=%s object_key=%s error=%v", groupID, objectKey, err)
		return domain.Attachment{}, fmt.Errorf("upload attachment: %w: %w", ErrAttachmentStorage, err)
	}

	att := domain.Attachment{
		ID:          id,
		FileName:    fileName,
		ObjectKey:   objectKey,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}
	if strings.HasPrefix(contentType, "image/") {
		thumbKey, err := u.makeThumbnail(ctx, objectKey, data)
		if err != nil {
			commonlog.Warnf("event=chatsync_attachment action=thumbnail status=failed object_key=%s error=%v", objectKey, err)
		} else {
			att.ThumbnailKey = thumbKey
		}
	}

	signed, err := u.store.PresignedGetObject(ctx, u.bucket, objectKey, u.presignTTL, url.Values{})
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("presign attachment: %w: %w", ErrAttachmentStorage, err)
	}
	att.URL = signed.String()
	commonlog.Infof("event=chatsync_attachment action=upload status=ok group_id=%s object_key=%s size=%d thumbnail=%t", groupID, objectKey, att.SizeBytes, att.ThumbnailKey != "")
	return att, nil
}

func (u *AttachmentUploader) makeThumbnail(ctx context.Context, objectKey string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", err
	}

	thumb := imaging.Thumbnail(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return "", err
	}

	ext := filepath.Ext(objectKey)
	thumbKey := strings.TrimSuffix(objectKey, ext) + thumbnailKeySuffix
	reader := bytes.NewReader(buf.Bytes())
	_, err = u.store.PutObject(ctx, u.bucket, thumbKey, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("upload thumb: %w", err)
	}
	return thumbKey, nil
}
