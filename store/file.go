// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// File is one remote object, carrying the listing metadata and a back
// pointer to the store that holds it.
type File struct {
	Key      string
	Size     int64
	ETag     string
	Modified time.Time

	store *Store
}

func newFile(s *Store, obj types.Object) *File {
	f := &File{
		store: s,
		Key:   aws.ToString(obj.Key),
		Size:  obj.Size,
		ETag:  aws.ToString(obj.ETag),
	}
	if obj.LastModified != nil {
		f.Modified = *obj.LastModified
	}
	return f
}

func (f *File) String() string {
	return fmt.Sprintf("<File(%s)>", f.Key)
}

// CachePath returns where the local copy of the object lives, whether
// or not it exists yet.
func (f *File) CachePath() string {
	return f.store.cachePath(f)
}

// IsCached reports whether a local copy of the object exists.
func (f *File) IsCached() bool {
	info, err := os.Stat(f.CachePath())
	return err == nil && info.Mode().IsRegular()
}

// ClearCached removes the local copy. Clearing a file that was never
// downloaded is a no-op.
func (f *File) ClearCached() error {
	err := os.Remove(f.CachePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Open returns a reader over a locally cached copy of the object,
// downloading it first if needed. Gzip-compressed objects are
// decompressed transparently; the format is sniffed from the magic
// bytes rather than the key suffix.
func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	if f.IsCached() {
		f.store.metrics.cacheHits.Inc()
	} else {
		f.store.metrics.cacheMisses.Inc()
		if err := f.store.Download(ctx, f); err != nil {
			return nil, err
		}
	}

	h, err := os.Open(f.CachePath())
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(h)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		h.Close()
		return nil, err
	}

	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("open gzip %s: %w", f.Key, err)
		}
		return &fileHandle{Reader: gz, closers: []io.Closer{gz, h}}, nil
	}

	return &fileHandle{Reader: br, closers: []io.Closer{h}}, nil
}

// fileHandle chains the readers and closers of an open cache entry.
type fileHandle struct {
	io.Reader
	closers []io.Closer
}

func (fh *fileHandle) Close() error {
	var first error
	for _, c := range fh.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
