package resultcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 error codes the store interprets.
const (
	s3PreconditionFailed = "PreconditionFailed"
	s3NoSuchKey          = "NoSuchKey"
	s3ObjectSuffix       = ".json"
	s3ContentType        = "application/json"
)

// S3Options configures the s3 backend.
type S3Options struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3Store keeps one JSON object per key at <prefix><revision>/<benchmark>.json.
// Writes carry If-None-Match: * so a second writer gets PreconditionFailed.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store connects and creates the bucket if missing.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 cache: client: %w", err)
	}

	store := &S3Store{client: client, bucket: opts.Bucket, prefix: opts.Prefix}

	err = store.ensureBucket(ctx, opts.Region)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func (s *S3Store) ensureBucket(ctx context.Context, region string) error {
	found, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("s3 cache: bucket %s: %w", s.bucket, err)
	}

	if found {
		return nil
	}

	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region})
	if err != nil {
		return fmt.Errorf("s3 cache: make bucket %s: %w", s.bucket, err)
	}

	return nil
}

func (s *S3Store) object(key Key) string {
	return s.prefix + key.Revision + "/" + key.Benchmark + s3ObjectSuffix
}

func errorCode(err error) string {
	return minio.ToErrorResponse(err).Code
}

// Has stats the object.
func (s *S3Store) Has(ctx context.Context, key Key) (bool, error) {
	err := key.Validate()
	if err != nil {
		return false, err
	}

	_, err = s.client.StatObject(ctx, s.bucket, s.object(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	if errorCode(err) == s3NoSuchKey {
		return false, nil
	}

	return false, fmt.Errorf("s3 cache: stat %s: %w", key, err)
}

// Write uploads the object unless it exists.
func (s *S3Store) Write(ctx context.Context, entry *Entry) error {
	key := entry.Key()

	err := key.Validate()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("s3 cache: encode %s: %w", key, err)
	}

	opts := minio.PutObjectOptions{ContentType: s3ContentType}
	opts.SetMatchETagExcept("*")

	_, err = s.client.PutObject(ctx, s.bucket, s.object(key), bytes.NewReader(payload), int64(len(payload)), opts)
	if err != nil {
		if errorCode(err) == s3PreconditionFailed {
			return exists(key)
		}

		return fmt.Errorf("s3 cache: put %s: %w", key, err)
	}

	return nil
}

// Read downloads and decodes the object.
func (s *S3Store) Read(ctx context.Context, key Key) (*Entry, error) {
	err := key.Validate()
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.object(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 cache: get %s: %w", key, err)
	}
	defer obj.Close()

	payload, err := io.ReadAll(obj)
	if err != nil {
		if errorCode(err) == s3NoSuchKey {
			return nil, notFound(key)
		}

		return nil, fmt.Errorf("s3 cache: read %s: %w", key, err)
	}

	var entry Entry

	err = json.Unmarshal(payload, &entry)
	if err != nil {
		return Failed(key, Failure{Kind: FailureCorrupt, Message: err.Error()}), nil
	}

	return &entry, nil
}

// Clear removes the object.
func (s *S3Store) Clear(ctx context.Context, key Key) error {
	err := key.Validate()
	if err != nil {
		return err
	}

	err = s.client.RemoveObject(ctx, s.bucket, s.object(key), minio.RemoveObjectOptions{})
	if err != nil && errorCode(err) != s3NoSuchKey {
		return fmt.Errorf("s3 cache: remove %s: %w", key, err)
	}

	return nil
}

// List walks the prefix.
func (s *S3Store) List(ctx context.Context) ([]Key, error) {
	var keys []Key

	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("s3 cache: list: %w", info.Err)
		}

		name := strings.TrimPrefix(info.Key, s.prefix)
		if !strings.HasSuffix(name, s3ObjectSuffix) {
			continue
		}

		rev, file := path.Split(name)
		rev = strings.TrimSuffix(rev, "/")

		if rev == "" || strings.Contains(rev, "/") {
			continue
		}

		keys = append(keys, Key{Revision: rev, Benchmark: strings.TrimSuffix(file, s3ObjectSuffix)})
	}

	slices.SortFunc(keys, compareKeys)

	return keys, nil
}

// Close is a no-op; the minio client holds no long-lived connections.
func (s *S3Store) Close() error {
	return nil
}

