// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"math"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	maxRetryAttempts = 20
	maxBackoffDelay  = 20 * time.Second
)

type NoOpRateLimit struct{}

func (NoOpRateLimit) AddTokens(uint) error { return nil }
func (NoOpRateLimit) GetToken(context.Context, uint) (func() error, error) {
	return noOpToken, nil
}
func noOpToken() error { return nil }

type ExponentialJitterBackoff struct {
	minDelay           time.Duration
	maxBackoffAttempts int
}

func NewExponentialJitterBackoff(minDelay time.Duration, maxAttempts int) *ExponentialJitterBackoff {
	return &ExponentialJitterBackoff{minDelay, maxAttempts}
}

func (j *ExponentialJitterBackoff) BackoffDelay(attempt int, err error) (time.Duration, error) {
	minDelay := j.minDelay

	log.Debugf("retryCount: %d", attempt)
	var jitter = float64(rand.Intn(120-80)+80) / 100
	retryTime := time.Duration(int(float64(int(minDelay.Nanoseconds())*int(math.Pow(3, float64(attempt)))) * jitter))

	// Cap retry time at 5 minutes to avoid too long a wait
	if retryTime > time.Duration(5*time.Minute) {
		retryTime = time.Duration(5 * time.Minute)
	}

	return retryTime, nil
}

// newS3Client builds the SDK client for o. Custom endpoints get
// path-style addressing so minio and Ceph RGW work out of the box.
func newS3Client(ctx context.Context, o *Option) (*s3v2.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(o.Region),
		config.WithClientLogMode(aws.LogRetries),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxBackoffDelay(retry.NewStandard(func(so *retry.StandardOptions) {
				so.MaxAttempts = maxRetryAttempts
				so.RateLimiter = NoOpRateLimit{}
				so.Backoff = NewExponentialJitterBackoff(25*time.Millisecond, 9)
			}), maxBackoffDelay)
		}),
	}

	if o.URL != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				PartitionID:   "aws",
				URL:           o.URL,
				SigningRegion: o.Region,
			}, nil
		})
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(customResolver))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := s3v2.NewFromConfig(cfg, func(so *s3v2.Options) {
		if o.URL != "" {
			so.UsePathStyle = true
		}
		switch {
		case o.Provider != nil:
			so.Credentials = aws.NewCredentialsCache(o.Provider)
		case o.AccessKey != "":
			so.Credentials = aws.NewCredentialsCache(
				credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, o.Token))
		}
	})

	return client, nil
}
