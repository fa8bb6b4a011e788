package cloud

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"
)

type restoreStatus int

const (
	restoreNone restoreStatus = iota
	restoreProgress
	restoreComplete
)

func (r restoreStatus) String() string {
	switch r {
	case restoreNone:
		return "archived"
	case restoreProgress:
		return "restoring"
	case restoreComplete:
		return "restored"
	}
	return "unknown"
}

func archival(class types.StorageClass) bool {
	switch class {
	case types.StorageClassGlacier, types.StorageClassDeepArchive:
		return true
	}
	return false
}

// parseRestore interprets the x-amz-restore header of an object. Objects outside the
// archival classes can always be downloaded.
func parseRestore(class types.StorageClass, header *string) (restoreStatus, error) {
	if !archival(class) {
		return restoreComplete, nil
	}
	if header == nil {
		return restoreNone, nil
	}
	switch {
	case strings.Contains(*header, `ongoing-request="false"`):
		return restoreComplete, nil
	case strings.Contains(*header, `ongoing-request="true"`):
		return restoreProgress, nil
	}
	return 0, errors.NotValidf("restore status %q", *header)
}

func (s *Storage) status(ctx context.Context, hash []byte) (restoreStatus, error) {
	out, err := s.head(ctx, s.fileName(hash))
	if err != nil {
		return 0, err
	}
	status, err := parseRestore(out.StorageClass, out.Restore)
	return status, errors.Annotatef(err, "blob %x", hash)
}

// RequestRestore asks S3 to thaw an archived blob. Blobs which are already restored or
// restoring are left alone.
func (s *Storage) RequestRestore(ctx context.Context, hash []byte) error {
	status, err := s.status(ctx, hash)
	if err != nil {
		return err
	}
	if status != restoreNone {
		log.Debug().Hex("hash", hash).Str("status", status.String()).Msg("no restore needed")
		return nil
	}

	_, err = s.client.RestoreObject(ctx, &awss3.RestoreObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fileName(hash)),
		RestoreRequest: &types.RestoreRequest{
			Days:                 aws.Int32(s.restoreDays),
			GlacierJobParameters: &types.GlacierJobParameters{Tier: s.restoreTier},
		},
	})
	if err != nil {
		return errors.Annotatef(err, "requesting restore of %x", hash)
	}
	log.Info().Hex("hash", hash).Str("tier", string(s.restoreTier)).Msg("restore requested")
	return nil
}

// AwaitRestore polls the blob until its restore is complete or ctx is done.
func (s *Storage) AwaitRestore(ctx context.Context, hash []byte) error {
	for {
		status, err := s.status(ctx, hash)
		if err != nil {
			return err
		}
		switch status {
		case restoreComplete:
			return nil
		case restoreNone:
			return errors.NotValidf("waiting for blob %x without a restore request", hash)
		}

		log.Debug().Hex("hash", hash).Dur("interval", s.pollInterval).Msg("restore in progress")
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-s.clock.After(s.pollInterval):
		}
	}
}
