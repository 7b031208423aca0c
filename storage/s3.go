package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/log"
)

// DefaultWriteExpiry bounds the validity of presigned upload URLs.
const DefaultWriteExpiry = 2 * time.Hour

// S3Storage hands out presigned PUT URLs on scratch keys and promotes them
// with a server side copy. Permanent objects must be readable by the
// participants, through a bucket policy or a public prefix.
type S3Storage struct {
	client s3iface.S3API
	bucket string
	prefix string
	expiry time.Duration
	log    log.Logger
}

func NewS3Storage(l log.Logger, sess client.ConfigProvider, bucket, prefix string) *S3Storage {
	return &S3Storage{
		client: s3.New(sess),
		bucket: bucket,
		prefix: prefix,
		expiry: DefaultWriteExpiry,
		log:    l.Named("s3Storage"),
	}
}

func (s *S3Storage) key(round int64, chunk *ceremony.Chunk, participantID, suffix string) (string, error) {
	if err := checkName("chunk id", chunk.ChunkID); err != nil {
		return "", err
	}
	if err := checkName("participant id", participantID); err != nil {
		return "", err
	}
	return s.prefix + objectName(round, chunk.ChunkID, chunk.Version(), participantID, suffix), nil
}

func (s *S3Storage) WriteLocation(_ context.Context, round int64, chunk *ceremony.Chunk, participantID string) (string, error) {
	key, err := s.key(round, chunk, participantID, UnsafeSuffix)
	if err != nil {
		return "", err
	}
	req, _ := s.client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/octet-stream"),
	})
	location, err := req.Presign(s.expiry)
	if err != nil {
		return "", fmt.Errorf("presigning upload: %w", err)
	}
	return location, nil
}

func (s *S3Storage) CopyToPermanent(ctx context.Context, round int64, chunk *ceremony.Chunk, participantID string) (string, error) {
	src, err := s.key(round, chunk, participantID, UnsafeSuffix)
	if err != nil {
		return "", err
	}
	dst, err := s.key(round, chunk, participantID, "")
	if err != nil {
		return "", err
	}
	_, err = s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(url.PathEscape(s.bucket + "/" + src)),
		Key:        aws.String(dst),
	})
	if err != nil {
		return "", fmt.Errorf("%w: copying %s: %v", ErrCopyFailed, src, err)
	}
	err = s.client.WaitUntilObjectExistsWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dst),
	})
	if err != nil {
		return "", fmt.Errorf("%w: waiting for %s: %v", ErrCopyFailed, dst, err)
	}

	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dst),
	})
	if err := req.Build(); err != nil {
		return "", err
	}
	s.log.Infow("artifact copied", "chunk", chunk.ChunkID, "key", dst)
	return req.HTTPRequest.URL.String(), nil
}
