// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 serves canned listing pages per prefix and canned head
// responses per key.
type fakeS3 struct {
	pages   map[string][][]types.Object
	heads   map[string]*s3v2.HeadObjectOutput
	listErr error

	pageIdx    map[string]int
	listInputs []*s3v2.ListObjectsV2Input
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3v2.ListObjectsV2Input, optFns ...func(*s3v2.Options)) (*s3v2.ListObjectsV2Output, error) {
	f.listInputs = append(f.listInputs, params)
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.pageIdx == nil {
		f.pageIdx = map[string]int{}
	}

	prefix := aws.ToString(params.Prefix)
	pages := f.pages[prefix]
	idx := f.pageIdx[prefix]
	f.pageIdx[prefix] = idx + 1

	out := &s3v2.ListObjectsV2Output{}
	if idx < len(pages) {
		out.Contents = pages[idx]
	}
	if idx < len(pages)-1 {
		out.IsTruncated = true
		out.NextContinuationToken = aws.String(strconv.Itoa(idx + 1))
	}
	return out, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3v2.HeadObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.HeadObjectOutput, error) {
	if out, ok := f.heads[aws.ToString(params.Key)]; ok {
		return out, nil
	}
	return nil, &types.NotFound{}
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3v2.GetObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.GetObjectOutput, error) {
	return nil, &types.NoSuchKey{}
}

// fakeDownloader writes canned bodies through the WriterAt, the way
// the transfer manager would.
type fakeDownloader struct {
	contents map[string][]byte
	calls    int
}

func (f *fakeDownloader) Download(ctx context.Context, w io.WriterAt, input *s3v2.GetObjectInput, options ...func(*manager.Downloader)) (int64, error) {
	f.calls++
	body, ok := f.contents[aws.ToString(input.Key)]
	if !ok {
		return 0, &types.NoSuchKey{}
	}
	n, err := w.WriteAt(body, 0)
	return int64(n), err
}

func obj(key string, size int64) types.Object {
	now := time.Now()
	return types.Object{
		Key:          aws.String(key),
		Size:         size,
		ETag:         aws.String(`"etag-` + key + `"`),
		LastModified: &now,
	}
}

func newTestStore(t *testing.T, api S3API, dl DownloadAPI) *Store {
	t.Helper()
	s, err := New("test-bucket", WithCacheDir(t.TempDir()))
	require.NoError(t, err)
	s.api = api
	s.downloader = dl
	return s
}

func TestNewRejectsShortBucketName(t *testing.T) {
	_, err := New("ab")
	assert.ErrorIs(t, err, ErrInvalidBucketName)
}

func TestLsPagination(t *testing.T) {
	api := &fakeS3{pages: map[string][][]types.Object{
		"logs/": {
			{obj("logs/a", 1), obj("logs/b", 2)},
			{obj("logs/c", 3)},
		},
	}}
	s := newTestStore(t, api, &fakeDownloader{})

	files, err := s.Ls("logs/").Collect(context.Background())
	require.NoError(t, err)

	keys := make([]string, 0, len(files))
	for _, f := range files {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"logs/a", "logs/b", "logs/c"}, keys)

	// second request must carry the continuation token of the first page
	require.Len(t, api.listInputs, 2)
	assert.Nil(t, api.listInputs[0].ContinuationToken)
	assert.Equal(t, "1", aws.ToString(api.listInputs[1].ContinuationToken))
}

func TestLsEmpty(t *testing.T) {
	api := &fakeS3{pages: map[string][][]types.Object{}}
	s := newTestStore(t, api, &fakeDownloader{})

	files, err := s.Ls("nothing/").Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLsErrorLatched(t *testing.T) {
	listErr := fmt.Errorf("throttled")
	api := &fakeS3{listErr: listErr}
	s := newTestStore(t, api, &fakeDownloader{})

	it := s.Ls("p/")
	_, err := it.Next(context.Background())
	require.ErrorIs(t, err, listErr)

	// a failed listing must not turn into an empty one on retry
	f, err := it.Next(context.Background())
	assert.Nil(t, f)
	assert.ErrorIs(t, err, listErr)

	// and the iterator does not keep hammering the API
	assert.Len(t, api.listInputs, 1)
}

func TestLsMultiPreservesPrefixOrder(t *testing.T) {
	api := &fakeS3{pages: map[string][][]types.Object{
		"b/": {{obj("b/1", 1)}},
		"a/": {{obj("a/1", 1), obj("a/2", 2)}},
	}}
	s := newTestStore(t, api, &fakeDownloader{})

	iters := s.LsMulti("b/", "a/")
	require.Len(t, iters, 2)

	var keys []string
	for _, it := range iters {
		files, err := it.Collect(context.Background())
		require.NoError(t, err)
		for _, f := range files {
			keys = append(keys, f.Key)
		}
	}
	assert.Equal(t, []string{"b/1", "a/1", "a/2"}, keys)
}

func TestStat(t *testing.T) {
	mod := time.Date(2022, 10, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeS3{heads: map[string]*s3v2.HeadObjectOutput{
		"data/x.bin": {
			ContentLength: 42,
			ETag:          aws.String(`"abc"`),
			LastModified:  &mod,
		},
	}}
	s := newTestStore(t, api, &fakeDownloader{})

	f, err := s.Stat(context.Background(), "data/x.bin")
	require.NoError(t, err)
	assert.Equal(t, "data/x.bin", f.Key)
	assert.Equal(t, int64(42), f.Size)
	assert.Equal(t, `"abc"`, f.ETag)
	assert.Equal(t, mod, f.Modified)
	assert.Equal(t, "<File(data/x.bin)>", f.String())
}

func TestStatNotFound(t *testing.T) {
	s := newTestStore(t, &fakeS3{}, &fakeDownloader{})

	_, err := s.Stat(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestDownloadCachesFile(t *testing.T) {
	dl := &fakeDownloader{contents: map[string][]byte{
		"dir/sub/x.txt": []byte("hello"),
	}}
	s := newTestStore(t, &fakeS3{}, dl)

	f := newFile(s, obj("dir/sub/x.txt", 5))
	assert.False(t, f.IsCached())

	require.NoError(t, s.Download(context.Background(), f))
	assert.True(t, f.IsCached())

	h, err := f.Open(context.Background())
	require.NoError(t, err)
	body, err := io.ReadAll(h)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	assert.Equal(t, "hello", string(body))

	// second open is a cache hit, no new download
	h, err = f.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Close())
	assert.Equal(t, 1, dl.calls)
}

func TestDownloadMissingObject(t *testing.T) {
	s := newTestStore(t, &fakeS3{}, &fakeDownloader{})

	f := newFile(s, obj("gone", 0))
	err := s.Download(context.Background(), f)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.False(t, f.IsCached())
}

func TestOpenGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("compressed payload"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	dl := &fakeDownloader{contents: map[string][]byte{
		"data.gz": buf.Bytes(),
	}}
	s := newTestStore(t, &fakeS3{}, dl)

	f := newFile(s, obj("data.gz", int64(buf.Len())))
	h, err := f.Open(context.Background())
	require.NoError(t, err)
	defer h.Close()

	body, err := io.ReadAll(h)
	require.NoError(t, err)
	assert.Equal(t, "compressed payload", string(body))
}

func TestClearCached(t *testing.T) {
	dl := &fakeDownloader{contents: map[string][]byte{"k": []byte("v")}}
	s := newTestStore(t, &fakeS3{}, dl)

	f := newFile(s, obj("k", 1))
	require.NoError(t, s.Download(context.Background(), f))
	require.True(t, f.IsCached())

	require.NoError(t, f.ClearCached())
	assert.False(t, f.IsCached())

	// clearing again is a no-op
	assert.NoError(t, f.ClearCached())
}

func TestPrefetch(t *testing.T) {
	api := &fakeS3{pages: map[string][][]types.Object{
		"p/": {
			{obj("p/1", 1), obj("p/2", 2)},
			{obj("p/3", 3)},
		},
	}}
	dl := &fakeDownloader{contents: map[string][]byte{
		"p/1": []byte("one"),
		"p/2": []byte("two"),
		"p/3": []byte("three"),
	}}
	s := newTestStore(t, api, dl)

	require.NoError(t, s.Prefetch(context.Background(), "p/"))

	for _, key := range []string{"p/1", "p/2", "p/3"} {
		f := newFile(s, obj(key, 0))
		assert.True(t, f.IsCached(), "expected %s to be cached", key)
	}

	// a second prefetch finds everything cached and downloads nothing
	calls := dl.calls
	require.NoError(t, s.Prefetch(context.Background(), "p/"))
	assert.Equal(t, calls, dl.calls)
}

func TestClearCacheIdempotent(t *testing.T) {
	dl := &fakeDownloader{contents: map[string][]byte{"k": []byte("v")}}
	s := newTestStore(t, &fakeS3{}, dl)

	f := newFile(s, obj("k", 1))
	require.NoError(t, s.Download(context.Background(), f))

	require.NoError(t, s.ClearCache())
	assert.False(t, f.IsCached())
	assert.NoError(t, s.ClearCache())
}

// fakePresigner counts presign calls and hands out numbered URLs.
type fakePresigner struct {
	calls int
}

func (f *fakePresigner) PresignGetObject(ctx context.Context, params *s3v2.GetObjectInput, optFns ...func(*s3v2.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.calls++
	return &v4.PresignedHTTPRequest{
		URL: fmt.Sprintf("https://example.com/%s?sig=%d", aws.ToString(params.Key), f.calls),
	}, nil
}

func TestPresignCached(t *testing.T) {
	ps := &fakePresigner{}
	s := newTestStore(t, &fakeS3{}, &fakeDownloader{})
	s.presigner = ps

	u1, err := s.Presign(context.Background(), "k", time.Hour)
	require.NoError(t, err)
	u2, err := s.Presign(context.Background(), "k", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, u1, u2)
	assert.Equal(t, 1, ps.calls)

	// a stale entry triggers a fresh presign
	s.presignMu.Lock()
	s.presignCache.Add("test-bucket/k", presignEntry{url: u1, expires: time.Now()})
	s.presignMu.Unlock()

	u3, err := s.Presign(context.Background(), "k", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, u1, u3)
	assert.Equal(t, 2, ps.calls)
}

func TestStoreString(t *testing.T) {
	s := newTestStore(t, &fakeS3{}, &fakeDownloader{})
	assert.Equal(t, "<Store(s3://test-bucket)>", s.String())
}
