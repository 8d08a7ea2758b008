// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"io"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the slice of the S3 client a Store talks to directly.
// Tests substitute a fake.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3v2.ListObjectsV2Input, optFns ...func(*s3v2.Options)) (*s3v2.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3v2.HeadObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3v2.GetObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.GetObjectOutput, error)
}

// DownloadAPI covers the transfer manager used for cache fills.
type DownloadAPI interface {
	Download(ctx context.Context, w io.WriterAt, input *s3v2.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

// PresignAPI covers the presign client used for share links.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3v2.GetObjectInput, optFns ...func(*s3v2.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}
