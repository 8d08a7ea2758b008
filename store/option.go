// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Option collects the tunables for a Store. The zero value is not
// usable; start from DefaultOption or ParseOption.
type Option struct {
	URL       string `json:"url"`
	Region    string `json:"region"`
	AccessKey string `json:"accesskey"`
	SecretKey string `json:"secretkey"`
	Token     string `json:"token"`

	CacheDir    string `json:"cache-dir"`
	Concurrency int    `json:"concurrency"`
	PartSize    int64  `json:"part-size"`

	// Provider overrides the static AccessKey/SecretKey/Token triple
	// when set, e.g. with a creds.Provider for an assumed role.
	Provider aws.CredentialsProvider `json:"-"`
}

// DefaultOption returns the defaults a Store starts from before
// OptionFuncs are applied.
func DefaultOption() *Option {
	return &Option{
		Region:      "us-east-1",
		CacheDir:    os.TempDir(),
		Concurrency: 5,
		PartSize:    8 * 1024 * 1024,
	}
}

type OptionFunc func(*Option)

// WithEndpoint points the client at a non-AWS S3 endpoint (minio,
// Ceph RGW). Path-style addressing is used whenever this is set.
func WithEndpoint(url string) OptionFunc {
	return func(o *Option) {
		o.URL = url
	}
}

func WithRegion(region string) OptionFunc {
	return func(o *Option) {
		o.Region = region
	}
}

// WithStaticCredentials fixes the access key pair used by the client.
// token may be empty for long-lived keys.
func WithStaticCredentials(accessKey, secretKey, token string) OptionFunc {
	return func(o *Option) {
		o.AccessKey = accessKey
		o.SecretKey = secretKey
		o.Token = token
	}
}

// WithCredentialsProvider plugs in any aws.CredentialsProvider, such
// as a creds.Provider backed by AssumeRole.
func WithCredentialsProvider(p aws.CredentialsProvider) OptionFunc {
	return func(o *Option) {
		o.Provider = p
	}
}

// WithCacheDir sets the directory under which per-bucket cache trees
// live. A leading ~ is expanded.
func WithCacheDir(dir string) OptionFunc {
	return func(o *Option) {
		o.CacheDir = dir
	}
}

// WithConcurrency sets the number of parallel part downloads used
// when filling the cache.
func WithConcurrency(n int) OptionFunc {
	return func(o *Option) {
		o.Concurrency = n
	}
}

// WithPartSize sets the part size in bytes for multipart downloads.
func WithPartSize(n int64) OptionFunc {
	return func(o *Option) {
		o.PartSize = n
	}
}

// ParseOption builds an Option from a viper instance, falling back to
// DefaultOption for anything unset. Recognized keys: url, region,
// accesskey, secretkey, token, cache-dir, concurrency, part-size.
func ParseOption(v *viper.Viper) *Option {
	o := DefaultOption()

	if s := v.GetString("url"); s != "" {
		o.URL = s
	}
	if s := v.GetString("region"); s != "" {
		o.Region = s
	}
	if s := v.GetString("accesskey"); s != "" {
		o.AccessKey = s
	}
	if s := v.GetString("secretkey"); s != "" {
		o.SecretKey = s
	}
	if s := v.GetString("token"); s != "" {
		o.Token = s
	}
	if s := v.GetString("cache-dir"); s != "" {
		o.CacheDir = s
	}
	if n := v.GetInt("concurrency"); n > 0 {
		o.Concurrency = n
	}
	if n := v.GetInt64("part-size"); n > 0 {
		o.PartSize = n
	}

	return o
}

// cacheRoot returns the per-bucket cache directory for o, expanding a
// leading ~ in the configured cache dir.
func (o *Option) cacheRoot(bucket string) string {
	dir, err := homedir.Expand(o.CacheDir)
	if err != nil {
		dir = o.CacheDir
	}
	return filepath.Join(dir, bucket)
}
