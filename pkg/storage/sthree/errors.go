// Copyright © 2018 One Concern

package sthree

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/cenkalti/backoff/v4"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/storage/status"
)

const maxRetries = 4

func filterErrNotExists(err error) error {
	if errors.Is(err, status.ErrNotExists) || errors.Is(err, status.ErrNotFound) {
		return nil
	}
	return err
}

// apiErrors maps S3 error responses to storage errors.
// See: https://docs.aws.amazon.com/AmazonS3/latest/API/ErrorResponses.html#ErrorCodeList
func apiErrors(err awserr.RequestFailure) error {
	switch code := err.StatusCode(); {
	case code == 400 && err.Code() == "InvalidBucketName":
		return status.ErrInvalidResource.Wrap(err)
	case code == 401:
		return status.ErrUnauthorized.Wrap(err)
	case code == 403:
		return status.ErrForbidden.Wrap(err)
	case code == 404 && (err.Code() == "NoSuchKey" || err.Code() == "NotFound"):
		// NotFound is the code of HEAD requests, and of minio
		return status.ErrNotExists.Wrap(err)
	case code == 404:
		// e.g. NoSuchBucket
		return status.ErrNotFound.Wrap(err)
	case code == 409, code == 412:
		return status.ErrExists.Wrap(err)
	case code == 429, code == 503:
		// SlowDown, or throttling by S3-compatible endpoints
		return status.ErrThrottled.Wrap(err)
	default:
		return status.ErrStorageAPI.Wrap(err)
	}
}

func toSentinelErrors(err error) error {
	if err == nil {
		return nil
	}
	var awsErr awserr.RequestFailure
	if errors.As(err, &awsErr) {
		return apiErrors(awsErr)
	}
	return status.ErrStorageAPI.Wrap(err)
}

// withRetry runs an idempotent request, retrying with an exponential backoff while throttled
func withRetry(ctx context.Context, request func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		err := toSentinelErrors(request())
		if err != nil && !errors.Is(err, status.ErrThrottled) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
}
