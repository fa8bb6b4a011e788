package cloud

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"

	"github.com/gentoomaniac/hashbak/pkg/stream"
)

// queueSize bounds how far the fetcher may run ahead of the consumer.
const queueSize = 2

type chunk struct {
	data []byte
	err  error
}

// download streams an object. A background fetcher reads the body while the consumer
// works on earlier chunks; an empty chunk marks the end of the object.
func (s *Storage) download(ctx context.Context, key string) stream.Stream {
	return func(yield func([]byte, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		queue := make(chan chunk, queueSize)
		go s.fetch(ctx, key, queue)

		for {
			var c chunk
			select {
			case c = <-queue:
			case <-ctx.Done():
				yield(nil, errors.Trace(ctx.Err()))
				return
			}
			if c.err != nil {
				yield(nil, c.err)
				return
			}
			if len(c.data) == 0 {
				return
			}
			if !yield(c.data, nil) {
				return
			}
		}
	}
}

func (s *Storage) fetch(ctx context.Context, key string, queue chan<- chunk) {
	send := func(c chunk) bool {
		select {
		case queue <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		send(chunk{err: errors.Annotatef(err, "downloading %s", key)})
		return
	}
	defer out.Body.Close()

	for {
		buf := make([]byte, s.readSize)
		n, err := io.ReadFull(out.Body, buf)
		if n > 0 && !send(chunk{data: buf[:n]}) {
			log.Debug().Str("key", key).Msg("download abandoned")
			return
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			send(chunk{err: errors.Annotatef(err, "reading %s", key)})
			return
		}
	}
	send(chunk{})
}
