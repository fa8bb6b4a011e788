package main

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"

	"github.com/gentoomaniac/hashbak/pkg/crypt/aes256"
	"github.com/gentoomaniac/hashbak/pkg/engine"
	"github.com/gentoomaniac/hashbak/pkg/remote"
	"github.com/gentoomaniac/hashbak/pkg/remote/cloud"
	"github.com/gentoomaniac/hashbak/pkg/remote/local"
)

// Target selects the storage backend and carries the secrets shared by all commands.
type Target struct {
	Bucket string `help:"S3 bucket to keep backups in" xor:"target" group:"Storage"`
	Local  string `help:"Directory to keep backups in" xor:"target" type:"path" group:"Storage"`

	Prefix       string        `help:"Key prefix inside the bucket" default:"hashbak/" group:"Storage"`
	StorageClass string        `help:"S3 storage class of content blobs" default:"GLACIER" enum:"STANDARD,STANDARD_IA,GLACIER,DEEP_ARCHIVE" group:"Storage"`
	RestoreTier  string        `help:"Retrieval tier for archived blobs" default:"Bulk" enum:"Bulk,Standard,Expedited" group:"Storage"`
	RestoreDays  int32         `help:"Days restored blobs stay available" default:"7" group:"Storage"`
	PollInterval time.Duration `help:"How often to check on running restores" default:"1m" group:"Storage"`

	Key  string `help:"Hex encoded 32 byte encryption key" env:"HASHBAK_KEY" group:"Secrets"`
	Salt string `help:"Hex encoded content hash salt" env:"HASHBAK_SALT" group:"Secrets"`
}

func decodeSecret(name, value string) ([]byte, error) {
	if value == "" {
		return nil, errors.NotValidf("empty %s", name)
	}
	secret, err := hex.DecodeString(value)
	if err != nil {
		return nil, errors.NotValidf("%s: %v", name, err)
	}
	return secret, nil
}

// open builds the backend and an engine runner for it. The returned function releases
// the backend.
func (t *Target) open(ctx context.Context) (*engine.Runner, func(), error) {
	key, err := decodeSecret("key", t.Key)
	if err != nil {
		return nil, nil, err
	}
	if len(key) != aes256.KeySize {
		return nil, nil, errors.NotValidf("key of %d bytes", len(key))
	}
	salt, err := decodeSecret("salt", t.Salt)
	if err != nil {
		return nil, nil, err
	}

	var (
		storage remote.Storage
		closer  = func() {}
	)
	switch {
	case t.Local != "":
		backend, err := local.New(t.Local, key)
		if err != nil {
			return nil, nil, err
		}
		storage = backend
		closer = func() {
			if err := backend.Close(); err != nil {
				log.Warn().Err(err).Msg("closing storage")
			}
		}
	case t.Bucket != "":
		backend, err := cloud.NewFromEnv(ctx, t.Bucket, key,
			cloud.WithPrefix(t.Prefix),
			cloud.WithStorageClass(types.StorageClass(t.StorageClass)),
			cloud.WithRestore(types.Tier(t.RestoreTier), t.RestoreDays),
			cloud.WithPollInterval(t.PollInterval),
		)
		if err != nil {
			return nil, nil, err
		}
		storage = backend
	default:
		return nil, nil, errors.New("one of --bucket or --local is required")
	}
	return engine.New(storage, salt, nil), closer, nil
}
