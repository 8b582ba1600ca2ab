package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// S3Config configures optional mirroring of uploaded payloads to
// S3-compatible object storage.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether the configuration is complete enough to use.
func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// Archive stores uploaded recording payloads. Every payload is spooled to the
// local directory; when S3 is configured the object is mirrored there as
// well. A mirror failure is logged and does not fail the upload.
type Archive struct {
	dir    string
	logger *zap.Logger

	s3     *minio.Client
	bucket string
	prefix string
	region string
}

// NewArchive creates an archive spooling to dir.
func NewArchive(dir string, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Archive{dir: dir, logger: logger}, nil
}

// EnableS3 configures S3 mirroring.
func (a *Archive) EnableS3(cfg S3Config) error {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return fmt.Errorf("create minio client: %w", err)
	}
	a.s3 = client
	a.bucket = cfg.Bucket
	a.prefix = strings.Trim(cfg.Prefix, "/")
	a.region = cfg.Region
	return nil
}

// Save writes the payload to the spool directory and mirrors it to S3 when
// configured. It returns the payload size and the local file path.
func (a *Archive) Save(ctx context.Context, id, contentType string, r io.Reader) (int64, string, error) {
	name := id + extensionForContentType(contentType)
	path := filepath.Join(a.dir, name)

	data, err := io.ReadAll(r)
	if err != nil {
		return 0, "", fmt.Errorf("read upload: %w", err)
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return 0, "", fmt.Errorf("spool upload: %w", err)
	}

	if a.s3 != nil {
		if err = a.mirror(ctx, name, contentType, data); err != nil {
			a.logger.Warn("mirroring recording to object storage",
				zap.String("id", id),
				zap.Error(err))
		}
	}

	return int64(len(data)), path, nil
}

func (a *Archive) mirror(ctx context.Context, name, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	exists, err := a.s3.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err = a.s3.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}

	object := name
	if a.prefix != "" {
		object = a.prefix + "/" + name
	}
	_, err = a.s3.PutObject(ctx, a.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	a.logger.Info("recording mirrored",
		zap.String("bucket", a.bucket),
		zap.String("object", object),
		zap.Int("bytes", len(data)))
	return nil
}

func extensionForContentType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "video/webm"), strings.HasPrefix(contentType, "audio/webm"):
		return ".webm"
	case strings.HasPrefix(contentType, "video/mp4"):
		return ".mp4"
	case strings.HasPrefix(contentType, "audio/ogg"):
		return ".ogg"
	default:
		return ".bin"
	}
}
