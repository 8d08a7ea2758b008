// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Iter walks a bucket listing one object at a time. Pages are fetched
// lazily with ListObjectsV2 continuation tokens, so arbitrarily large
// prefixes stream in constant memory.
type Iter struct {
	store  *Store
	prefix string

	buf   []types.Object
	token *string
	begun bool
	done  bool
	err   error
}

// Next returns the next object under the prefix, or (nil, nil) once
// the listing is exhausted. A listing error is latched: every call
// after a failure keeps returning it, so a failed listing can never
// be mistaken for an empty one.
func (it *Iter) Next(ctx context.Context) (*File, error) {
	for len(it.buf) == 0 {
		if it.done {
			return nil, it.err
		}
		if err := it.fetch(ctx); err != nil {
			it.done = true
			it.err = err
			return nil, err
		}
	}

	obj := it.buf[0]
	it.buf = it.buf[1:]
	return newFile(it.store, obj), nil
}

// Collect drains the iterator into a slice.
func (it *Iter) Collect(ctx context.Context) ([]*File, error) {
	var files []*File
	for {
		f, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return files, nil
		}
		files = append(files, f)
	}
}

func (it *Iter) fetch(ctx context.Context) error {
	api, err := it.store.s3(ctx)
	if err != nil {
		return err
	}

	input := &s3v2.ListObjectsV2Input{
		Bucket: aws.String(it.store.bucket),
		Prefix: aws.String(it.prefix),
	}
	if it.begun {
		input.ContinuationToken = it.token
	}
	it.begun = true

	it.store.say(".")
	out, err := api.ListObjectsV2(ctx, input)
	if err != nil {
		var nsb *types.NoSuchBucket
		if errors.As(err, &nsb) {
			log.Warnf("List Objects(%s) from Bucket(%s): NoSuchBucket", it.prefix, it.store.bucket)
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			log.Warnf("List Objects(%s) from Bucket(%s) with Error:%s", it.prefix, it.store.bucket, apiErr.ErrorMessage())
		}
		return err
	}

	it.store.metrics.listPages.Inc()
	it.buf = append(it.buf, out.Contents...)

	if out.IsTruncated {
		it.token = out.NextContinuationToken
	} else {
		it.done = true
	}

	return nil
}
