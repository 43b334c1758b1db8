// Copyright © 2018 One Concern

package sthree

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/storage"
	"github.com/oneconcern/tablemon/pkg/storage/status"
)

// Option for the S3 store
type Option func(*s3FS)

// Bucket sets the target bucket
func Bucket(bucket string) Option {
	return func(fs *s3FS) {
		fs.bucket = bucket
	}
}

// Prefix sets a key prefix inside the bucket
func Prefix(prefix string) Option {
	return func(fs *s3FS) {
		fs.prefix = prefix
	}
}

// AWSConfig sets the AWS SDK configuration
func AWSConfig(cfg *aws.Config) Option {
	return func(fs *s3FS) {
		fs.awsConfig = cfg
	}
}

// Endpoint configures an S3-compatible endpoint with static credentials (e.g. minio)
func Endpoint(endpoint, region, accessKey, secretKey string) Option {
	return func(fs *s3FS) {
		cfg := aws.NewConfig().
			WithEndpoint(endpoint).
			WithS3ForcePathStyle(true).
			WithDisableSSL(true)
		if region == "" {
			region = "us-east-1"
		}
		cfg = cfg.WithRegion(region)
		if accessKey != "" {
			cfg = cfg.WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))
		}
		fs.awsConfig = cfg
	}
}

// New S3 storage
func New(option Option, options ...Option) (storage.Store, error) {
	fs := new(s3FS)
	option(fs)
	for _, apply := range options {
		apply(fs)
	}
	if fs.bucket == "" {
		return nil, status.ErrInvalidResource.Wrapf("a bucket is required")
	}

	sess, err := session.NewSession(fs.awsConfig)
	if err != nil {
		return nil, status.ErrStorageAPI.Wrap(err)
	}
	fs.s3 = s3.New(sess)
	fs.uploader = s3manager.NewUploaderWithClient(fs.s3)
	return fs, nil
}

type s3FS struct {
	bucket    string
	prefix    string
	awsConfig *aws.Config
	s3        *s3.S3
	uploader  *s3manager.Uploader
}

func (s *s3FS) key(k string) *string {
	return aws.String(s.prefix + k)
}

func (s *s3FS) Has(ctx context.Context, key string) (bool, error) {
	err := withRetry(ctx, func() error {
		_, erh := s.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    s.key(key),
		})
		return erh
	})
	if err != nil {
		if errors.Is(err, status.ErrNotExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *s3FS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var obj *s3.GetObjectOutput
	err := withRetry(ctx, func() (erg error) {
		obj, erg = s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    s.key(key),
		})
		return erg
	})
	if err != nil {
		return nil, err
	}
	return obj.Body, nil
}

func (s *s3FS) Put(ctx context.Context, key string, rdr io.Reader, exclusive bool) error {
	if exclusive {
		has, err := s.Has(ctx, key)
		if err != nil {
			return err
		}
		if has {
			return status.ErrExists.Wrapf("%s", key)
		}
	}
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(key),
		Body:   rdr,
	})
	return toSentinelErrors(err)
}

func (s *s3FS) Delete(ctx context.Context, key string) error {
	err := withRetry(ctx, func() error {
		_, erd := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    s.key(key),
		})
		return erd
	})
	return filterErrNotExists(err)
}

func (s *s3FS) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	eachPage := func(page *s3.ListObjectsOutput, more bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key != "" && len(key) > len(s.prefix) {
				keys = append(keys, key[len(s.prefix):])
			}
		}
		return more
	}
	params := &s3.ListObjectsInput{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		params.Prefix = aws.String(s.prefix)
	}

	if err := s.s3.ListObjectsPagesWithContext(ctx, params, eachPage); err != nil {
		return nil, toSentinelErrors(err)
	}
	return keys, nil
}

func (s *s3FS) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *s3FS) String() string {
	return "s3@" + s.bucket + "/" + s.prefix
}
