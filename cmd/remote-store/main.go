// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command remote-store gives cached command line access to the
// objects in an S3 bucket.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ThierryZhou/go-remote-store/creds"
	"github.com/ThierryZhou/go-remote-store/store"
)

var rootCmd = &cobra.Command{
	Use:          "remote-store",
	Short:        "Cached access to the objects in an S3 bucket",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("bucket", "", "bucket to operate on")
	pf.String("url", "", "custom S3 endpoint, e.g. a minio address")
	pf.String("region", "", "bucket region")
	pf.String("accesskey", "", "static access key")
	pf.String("secretkey", "", "static secret key")
	pf.String("role", "", "ARN of a role to assume for access")
	pf.String("session-name", "remote-store", "session name for the assumed role")
	pf.String("cache-dir", "", "directory holding per-bucket cache trees")
	pf.BoolP("verbose", "v", false, "enable debug logging")

	if err := viper.BindPFlags(pf); err != nil {
		log.Fatalf("bind flags: %v", err)
	}
	viper.SetEnvPrefix("remote_store")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// newStore assembles a Store from flags, environment and an optional
// assumed role.
func newStore(ctx context.Context) (*store.Store, error) {
	bucket := viper.GetString("bucket")
	if bucket == "" {
		return nil, fmt.Errorf("a bucket is required; pass --bucket or set REMOTE_STORE_BUCKET")
	}

	o := store.ParseOption(viper.GetViper())

	if role := viper.GetString("role"); role != "" {
		client, err := creds.New(ctx)
		if err != nil {
			return nil, err
		}
		o.Provider = &creds.Provider{
			Client:      client,
			RoleARN:     role,
			SessionName: viper.GetString("session-name"),
		}
	}

	return store.NewWithOption(bucket, o)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
