// Package content resolves newsletter bodies kept in object storage.
// Bodies are plain or zstd-compressed HTML objects in a single S3 bucket,
// fetched through a circuit breaker and cached by key.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"bulletin/internal/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
)

// maxBodySize bounds a single decoded body.
const maxBodySize = 8 << 20

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// S3API is the subset of *s3.Client used by S3BodyStore.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Fetcher loads raw body bytes by object key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// S3BodyStore reads bodies from a bucket, transparently decoding zstd frames.
type S3BodyStore struct {
	client S3API
	bucket string

	// decoderPool provides reusable zstd decoders to avoid repeated allocations.
	decoderPool sync.Pool
}

// NewS3BodyStore creates an S3BodyStore for bucket.
func NewS3BodyStore(client S3API, bucket string) *S3BodyStore {
	return &S3BodyStore{
		client: client,
		bucket: bucket,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxBodySize))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

// Fetch downloads key. A missing object maps to ErrCodeNotFoundObject; any
// other S3 failure maps to ErrCodeUpstreamStorage.
func (s *S3BodyStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, types.NewAppError(types.ErrCodeNotFoundObject,
				fmt.Sprintf("body object %s not found", key), err)
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("failed to fetch body object %s", key), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxBodySize+1))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("failed to read body object %s", key), err)
	}
	if len(data) > maxBodySize {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("body object %s exceeds %d bytes", key, maxBodySize), nil)
	}

	if !bytes.HasPrefix(data, zstdMagic) && aws.ToString(out.ContentEncoding) != "zstd" {
		return data, nil
	}
	decoded, err := s.decompress(data)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to decode body object %s", key), err)
	}
	return decoded, nil
}

func (s *S3BodyStore) decompress(data []byte) ([]byte, error) {
	decoder := s.decoderPool.Get().(*zstd.Decoder)
	defer s.decoderPool.Put(decoder)

	result, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return result, nil
}
