// Package cloud stores snapshots and content blobs in an S3 bucket. Content blobs go to
// an archival storage class by default and have to be restored before download.
package cloud

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"

	"github.com/gentoomaniac/hashbak/pkg/remote"
	"github.com/gentoomaniac/hashbak/pkg/stream"
)

const (
	DefaultPrefix       = "hashbak/"
	DefaultPartSize     = 10 * 1024 * 1024
	DefaultPollInterval = time.Minute
	DefaultRestoreDays  = 7
)

// Client is the part of the S3 API the backend uses. *awss3.Client implements it.
type Client interface {
	CreateMultipartUpload(ctx context.Context, params *awss3.CreateMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *awss3.UploadPartInput, optFns ...func(*awss3.Options)) (*awss3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *awss3.CompleteMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *awss3.AbortMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	RestoreObject(ctx context.Context, params *awss3.RestoreObjectInput, optFns ...func(*awss3.Options)) (*awss3.RestoreObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

type Storage struct {
	client Client
	bucket string
	key    []byte

	prefix       string
	partSize     int
	readSize     int
	storageClass types.StorageClass
	restoreTier  types.Tier
	restoreDays  int32
	pollInterval time.Duration
	clock        clock.Clock
}

var _ remote.Storage = (*Storage)(nil)

type Option func(*Storage)

// WithPrefix sets the key prefix everything is stored under.
func WithPrefix(prefix string) Option {
	return func(s *Storage) { s.prefix = prefix }
}

// WithPartSize sets the multipart upload part size. S3 needs at least 5 MiB for every
// part but the last.
func WithPartSize(size int) Option {
	return func(s *Storage) { s.partSize = size }
}

// WithStorageClass sets the storage class of content blobs.
func WithStorageClass(class types.StorageClass) Option {
	return func(s *Storage) { s.storageClass = class }
}

func WithRestore(tier types.Tier, days int32) Option {
	return func(s *Storage) {
		s.restoreTier = tier
		s.restoreDays = days
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(s *Storage) { s.pollInterval = interval }
}

func WithClock(clk clock.Clock) Option {
	return func(s *Storage) { s.clock = clk }
}

func New(client Client, bucket string, key []byte, opts ...Option) *Storage {
	s := &Storage{
		client:       client,
		bucket:       bucket,
		key:          key,
		prefix:       DefaultPrefix,
		partSize:     DefaultPartSize,
		readSize:     1024 * 1024,
		storageClass: types.StorageClassGlacier,
		restoreTier:  types.TierBulk,
		restoreDays:  DefaultRestoreDays,
		pollInterval: DefaultPollInterval,
		clock:        clock.WallClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromEnv builds a client from the default AWS credential chain.
func NewFromEnv(ctx context.Context, bucket string, key []byte, opts ...Option) (*Storage, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "loading aws config")
	}
	log.Debug().Str("bucket", bucket).Str("region", cfg.Region).Msg("s3 storage configured")
	return New(awss3.NewFromConfig(cfg), bucket, key, opts...), nil
}

func (s *Storage) metaName(name string) string {
	return s.prefix + "snapshots/" + name
}

func (s *Storage) fileName(hash []byte) string {
	return s.prefix + "file/" + hex.EncodeToString(hash)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func (s *Storage) head(ctx context.Context, key string) (*awss3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, errors.NotFoundf("s3://%s/%s", s.bucket, key)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "head %s", key)
	}
	return out, nil
}

func (s *Storage) upload(ctx context.Context, key string, class types.StorageClass, data stream.Stream) error {
	return s.withMultipart(ctx, key, class, func(mp *multipart) error {
		for part, err := range stream.Paginate(data, s.partSize) {
			if err != nil {
				return err
			}
			if err := mp.addChunk(ctx, part); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) UploadMeta(ctx context.Context, name string, contents stream.Stream) error {
	key := s.metaName(name)
	err := s.upload(ctx, key, types.StorageClassStandard, remote.Seal(contents, s.key, remote.MetaIV(name)))
	return errors.Annotatef(err, "uploading snapshot %s", name)
}

func (s *Storage) ListMeta(ctx context.Context) ([]string, error) {
	prefix := s.metaName("")
	paginator := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Annotate(err, "listing snapshots")
		}
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
	}
	return names, nil
}

func (s *Storage) GetMeta(ctx context.Context, name string) (stream.Stream, error) {
	key := s.metaName(name)
	if _, err := s.head(ctx, key); err != nil {
		return nil, err
	}
	return remote.Open(s.download(ctx, key), s.key), nil
}

// FileExists only looks at object metadata, nothing is downloaded.
func (s *Storage) FileExists(ctx context.Context, hash []byte) (bool, error) {
	_, err := s.head(ctx, s.fileName(hash))
	if errors.Is(err, errors.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Storage) UploadFile(ctx context.Context, hash []byte, contents stream.Stream) error {
	err := s.upload(ctx, s.fileName(hash), s.storageClass, remote.Seal(contents, s.key, remote.FileIV(hash)))
	return errors.Annotatef(err, "uploading blob %x", hash)
}

func (s *Storage) GetRestoredFile(ctx context.Context, hash []byte) (stream.Stream, error) {
	status, err := s.status(ctx, hash)
	if err != nil {
		return nil, err
	}
	if status != restoreComplete {
		return nil, errors.NotValidf("blob %x is %s, not restored", hash, status)
	}
	return remote.Open(s.download(ctx, s.fileName(hash)), s.key), nil
}

