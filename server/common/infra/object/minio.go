// Package object wraps the MinIO client used for chat attachments.
package object

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	commonlog "chatsync/server/common/log"
)

// NewClient accepts either a bare host:port or a URL. A scheme in endpoint
// overrides useSSL.
func NewClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	host, secure := normalizeEndpoint(endpoint, useSSL)
	if host == "" {
		return nil, fmt.Errorf("minio endpoint is empty")
	}
	return minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
}

func normalizeEndpoint(endpoint string, useSSL bool) (string, bool) {
	host := strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(host, "https://"):
		host, useSSL = strings.TrimPrefix(host, "https://"), true
	case strings.HasPrefix(host, "http://"):
		host, useSSL = strings.TrimPrefix(host, "http://"), false
	}
	return strings.TrimRight(host, "/"), useSSL
}

// EnsureBucket creates bucket unless it already exists. Losing a creation
// race against another agent is not an error.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	commonlog.Infof("event=object_storage action=create_bucket status=ok bucket=%s", bucket)
	return nil
}
