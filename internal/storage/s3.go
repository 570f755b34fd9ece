package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// defaultPartSize is the multipart upload part size: 100 MiB.
const defaultPartSize = 100 * 1024 * 1024

// S3Store talks to an S3-compatible object store (DigitalOcean Spaces, MinIO,
// AWS). The client is safe for concurrent use.
type S3Store struct {
	client   *s3.Client
	bucket   string
	partSize int64
	logger   *slog.Logger
}

// Options configures the object store connection.
type Options struct {
	Region       string
	Endpoint     string
	AccessKey    string
	AccessSecret string
	Bucket       string
}

// NewS3Store builds an S3 client against the configured endpoint.
func NewS3Store(ctx context.Context, opts Options, logger *slog.Logger) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.AccessSecret, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})

	return &S3Store{
		client:   client,
		bucket:   opts.Bucket,
		partSize: defaultPartSize,
		logger:   logger,
	}, nil
}

// Download streams the object at key into dst without buffering the whole
// body. Missing objects surface as ErrNotFound.
func (s *S3Store) Download(ctx context.Context, key string, dst io.Writer) error {
	s.logger.Debug("downloading object", "key", key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify(fmt.Errorf("failed to download %s: %w", key, err))
	}
	defer out.Body.Close()

	if _, err := io.Copy(dst, out.Body); err != nil {
		return fmt.Errorf("failed to stream %s: %w", key, err)
	}
	return nil
}

// Upload writes body to key with a public-read ACL.
func (s *S3Store) Upload(ctx context.Context, key string, body io.Reader) error {
	s.logger.Debug("uploading object", "key", key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
		ACL:    types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// UploadContent uploads a string body to key with a public-read ACL.
func (s *S3Store) UploadContent(ctx context.Context, key, content string) error {
	return s.Upload(ctx, key, strings.NewReader(content))
}

// UploadFileMultipart streams the file at path to key as a multipart upload.
// On any failure the multipart upload is aborted before the error surfaces,
// so no orphaned parts accumulate in the bucket.
func (s *S3Store) UploadFileMultipart(ctx context.Context, key, path string) error {
	s.logger.Debug("uploading object with multipart", "key", key, "path", path)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for multipart upload: %w", path, err)
	}
	defer f.Close()

	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		ACL:    types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload for %s: %w", key, err)
	}
	uploadID := created.UploadId

	abort := func() {
		_, abortErr := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		if abortErr != nil {
			s.logger.Warn("failed to abort multipart upload", "key", key, "error", abortErr)
		}
	}

	var completed []types.CompletedPart
	buf := make([]byte, s.partSize)
	for partNumber := int32(1); ; partNumber++ {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			part, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNumber),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				abort()
				return fmt.Errorf("failed to upload part %d of %s: %w", partNumber, key, err)
			}
			completed = append(completed, types.CompletedPart{
				ETag:       part.ETag,
				PartNumber: aws.Int32(partNumber),
			})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			abort()
			return fmt.Errorf("failed to read %s for multipart upload: %w", path, readErr)
		}
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		abort()
		return fmt.Errorf("failed to complete multipart upload for %s: %w", key, err)
	}
	return nil
}

// Copy duplicates the object at srcKey to dstKey inside the bucket.
func (s *S3Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	s.logger.Debug("copying object", "src", srcKey, "dst", dstKey)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return classify(fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err))
	}
	return nil
}

// Delete removes the object at key.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	s.logger.Debug("deleting object", "key", key)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// classify maps S3 API "no such key" responses onto ErrNotFound so callers
// can skip missing objects without string matching.
func classify(err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}
