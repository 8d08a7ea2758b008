// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var cachedCmd = &cobra.Command{
	Use:   "cached",
	Short: "List the locally cached copies for the bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStore(cmd.Context())
		if err != nil {
			return err
		}

		root := s.CacheDir()
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			key, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			fmt.Println(filepath.ToSlash(key))
			return nil
		})
		if os.IsNotExist(err) {
			return nil
		}
		return err
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the bucket's local cache tree",
	Long: `Remove the whole per-bucket cache tree. Running clean when nothing
is cached is not an error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStore(cmd.Context())
		if err != nil {
			return err
		}
		return s.ClearCache()
	},
}

var urlCmd = &cobra.Command{
	Use:   "url KEY",
	Short: "Print a presigned GET URL for an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newStore(ctx)
		if err != nil {
			return err
		}

		expiry, err := cmd.Flags().GetDuration("expiry")
		if err != nil {
			return err
		}

		u, err := s.Presign(ctx, args[0], expiry)
		if err != nil {
			return err
		}
		fmt.Println(u)
		return nil
	},
}

func init() {
	urlCmd.Flags().Duration("expiry", 7*24*time.Hour, "how long the link stays valid")

	rootCmd.AddCommand(cachedCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(urlCmd)
}
