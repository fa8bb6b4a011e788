package cloud

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"
)

type multipart struct {
	client   Client
	bucket   string
	key      string
	uploadID string
	parts    []types.CompletedPart
	size     uint64
}

func (m *multipart) addChunk(ctx context.Context, data []byte) error {
	number := int32(len(m.parts) + 1)
	out, err := m.client.UploadPart(ctx, &awss3.UploadPartInput{
		Bucket:     aws.String(m.bucket),
		Key:        aws.String(m.key),
		UploadId:   aws.String(m.uploadID),
		PartNumber: aws.Int32(number),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return errors.Annotatef(err, "uploading part %d of %s", number, m.key)
	}
	m.parts = append(m.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})
	m.size += uint64(len(data))
	log.Trace().Str("key", m.key).Int32("part", number).Msg("part uploaded")
	return nil
}

// withMultipart runs fn against a fresh multipart upload and completes it. If fn fails
// or panics the upload is aborted, even when ctx is already cancelled.
func (s *Storage) withMultipart(ctx context.Context, key string, class types.StorageClass, fn func(*multipart) error) error {
	out, err := s.client.CreateMultipartUpload(ctx, &awss3.CreateMultipartUploadInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		StorageClass: class,
	})
	if err != nil {
		return errors.Annotatef(err, "starting upload of %s", key)
	}
	mp := &multipart{client: s.client, bucket: s.bucket, key: key, uploadID: aws.ToString(out.UploadId)}

	completed := false
	defer func() {
		if completed {
			return
		}
		_, err := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &awss3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(mp.uploadID),
		})
		if err != nil {
			log.Error().Err(err).Str("key", key).Str("upload", mp.uploadID).Msg("could not abort upload")
			return
		}
		log.Warn().Str("key", key).Msg("upload aborted")
	}()

	if err := fn(mp); err != nil {
		return err
	}
	_, err = s.client.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(mp.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: mp.parts},
	})
	if err != nil {
		return errors.Annotatef(err, "completing upload of %s", key)
	}
	completed = true
	log.Debug().Str("key", key).Str("size", humanize.Bytes(mp.size)).Int("parts", len(mp.parts)).Msg("upload complete")
	return nil
}
