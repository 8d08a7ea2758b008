// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store is a read-through caching proxy for the objects in an
// S3 bucket. Listings stay remote; object bodies are downloaded once
// into a local per-bucket cache tree and opened from there.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/golang/groupcache/lru"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	maxGoroutines          = 32
	defaultShareLinkExpiry = time.Hour * 24 * 7 // 7 days
	presignCacheSize       = 4096
	// margin under which a cached presigned URL is considered stale
	presignExpiryMargin = time.Minute
)

// Store proxies the objects of a single S3 bucket through a local
// file cache rooted at <cache-dir>/<bucket>.
type Store struct {
	bucket   string
	cacheDir string
	opt      *Option
	metrics  *storeMetrics

	// client construction is lazy so a Store can be built in code
	// paths that never touch the network
	mu         sync.Mutex
	api        S3API
	downloader DownloadAPI
	presigner  PresignAPI

	presignMu    sync.Mutex
	presignCache *lru.Cache
}

type presignEntry struct {
	url     string
	expires time.Time
}

// New creates a Store for bucket. No connection is made until the
// first operation that needs one.
func New(bucket string, opts ...OptionFunc) (*Store, error) {
	o := DefaultOption()
	for _, fn := range opts {
		fn(o)
	}
	return NewWithOption(bucket, o)
}

// NewWithOption creates a Store from an assembled Option, e.g. one
// built with ParseOption.
func NewWithOption(bucket string, o *Option) (*Store, error) {
	if len(bucket) <= 2 {
		return nil, ErrInvalidBucketName
	}

	return &Store{
		bucket:       bucket,
		cacheDir:     o.cacheRoot(bucket),
		opt:          o,
		metrics:      newStoreMetrics(),
		presignCache: lru.New(presignCacheSize),
	}, nil
}

func (s *Store) String() string {
	return fmt.Sprintf("<Store(s3://%s)>", s.bucket)
}

// Bucket returns the bucket name the store is bound to.
func (s *Store) Bucket() string { return s.bucket }

// CacheDir returns the root of the local cache tree.
func (s *Store) CacheDir() string { return s.cacheDir }

// s3 returns the lazily-built S3 client.
func (s *Store) s3(ctx context.Context) (S3API, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.api == nil {
		client, err := newS3Client(ctx, s.opt)
		if err != nil {
			return nil, fmt.Errorf("build s3 client: %w", err)
		}
		s.api = client
		s.downloader = manager.NewDownloader(client, func(d *manager.Downloader) {
			d.Concurrency = s.opt.Concurrency
			d.PartSize = s.opt.PartSize
		})
		s.presigner = s3v2.NewPresignClient(client)
	}

	return s.api, nil
}

// Ls returns an iterator over the objects whose keys start with
// prefix, in S3 listing order. Pages are fetched on demand.
func (s *Store) Ls(prefix string) *Iter {
	return &Iter{store: s, prefix: prefix}
}

// LsMulti returns one iterator per prefix. The order of the returned
// iterators matches the order of the prefixes.
func (s *Store) LsMulti(prefixes ...string) []*Iter {
	iters := make([]*Iter, 0, len(prefixes))
	for _, prefix := range prefixes {
		iters = append(iters, s.Ls(prefix))
	}
	return iters
}

// Stat looks up a single object by key without listing.
func (s *Store) Stat(ctx context.Context, key string) (*File, error) {
	api, err := s.s3(ctx)
	if err != nil {
		return nil, err
	}

	input := &s3v2.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}

	out, err := api.HeadObject(ctx, input)
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("head %s/%s: %w", s.bucket, key, ErrObjectNotFound)
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			log.Warnf("Head Object(%s) from Bucket(%s) with Error:%s", key, s.bucket, apiErr.ErrorMessage())
		}
		return nil, err
	}

	f := &File{
		store: s,
		Key:   key,
		Size:  out.ContentLength,
		ETag:  aws.ToString(out.ETag),
	}
	if out.LastModified != nil {
		f.Modified = *out.LastModified
	}
	return f, nil
}

// Download fetches f into its cache path via the transfer manager.
// The body lands in a temp file that is renamed into place, so a
// partial download never looks cached.
func (s *Store) Download(ctx context.Context, f *File) error {
	if _, err := s.s3(ctx); err != nil {
		return err
	}

	path := s.cachePath(f)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	input := &s3v2.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(f.Key),
	}

	s.say(".")
	n, err := s.downloader.Download(ctx, tmp, input)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("download %s/%s: %w", s.bucket, f.Key, ErrObjectNotFound)
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			log.Warnf("Get Object(%s) From Bucket(%s) with Error:%s", f.Key, s.bucket, apiErr.ErrorMessage())
		}
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move download into cache: %w", err)
	}

	s.metrics.downloads.Inc()
	s.metrics.bytesDownloaded.Add(float64(n))
	return nil
}

// Prefetch downloads every object under prefix that is not already
// cached, with a bounded worker pool.
func (s *Store) Prefetch(ctx context.Context, prefix string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxGoroutines)

	var iterErr error
	it := s.Ls(prefix)
	for {
		f, err := it.Next(ctx)
		if err != nil {
			iterErr = err
			break
		}
		if f == nil {
			break
		}
		if f.IsCached() {
			continue
		}
		f := f
		g.Go(func() error {
			return s.Download(ctx, f)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return iterErr
}

// Presign returns a presigned GET URL for key. URLs are cached until
// shortly before they expire. A non-positive expiry falls back to the
// 7 day default.
func (s *Store) Presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = defaultShareLinkExpiry
	}

	cacheKey := fmt.Sprintf("%s/%s", s.bucket, key)
	s.presignMu.Lock()
	if v, ok := s.presignCache.Get(cacheKey); ok {
		e := v.(presignEntry)
		if time.Until(e.expires) > presignExpiryMargin {
			s.presignMu.Unlock()
			return e.url, nil
		}
		s.presignCache.Remove(cacheKey)
	}
	s.presignMu.Unlock()

	if _, err := s.s3(ctx); err != nil {
		return "", err
	}

	input := &s3v2.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}

	resp, err := s.presigner.PresignGetObject(ctx, input, func(po *s3v2.PresignOptions) {
		po.Expires = expiry
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			log.Warnf("Presign Object(%s) in Bucket(%s) with Error:%s", key, s.bucket, apiErr.ErrorMessage())
		}
		return "", err
	}

	s.presignMu.Lock()
	s.presignCache.Add(cacheKey, presignEntry{url: resp.URL, expires: time.Now().Add(expiry)})
	s.presignMu.Unlock()

	return resp.URL, nil
}

// ClearCache removes the whole per-bucket cache tree. Removing a
// missing tree is not an error.
func (s *Store) ClearCache() error {
	return os.RemoveAll(s.cacheDir)
}

// RegisterMetrics registers the store's prometheus collectors on reg.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	return s.metrics.register(reg)
}

// cachePath maps a file to its location in the local cache tree. It
// is a pure function of bucket, cache root and key.
func (s *Store) cachePath(f *File) string {
	return filepath.Join(s.cacheDir, filepath.FromSlash(f.Key))
}

// say emits a progress tick, the way long listings and downloads show
// life on a terminal.
func (s *Store) say(msg string) {
	log.Debug(msg)
}
