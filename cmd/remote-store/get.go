// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get KEY...",
	Short: "Download objects into the local cache",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newStore(ctx)
		if err != nil {
			return err
		}

		stop := startProgress()
		defer stop()

		for _, key := range args {
			f, err := s.Stat(ctx, key)
			if err != nil {
				return err
			}
			if !f.IsCached() {
				if err := s.Download(ctx, f); err != nil {
					return err
				}
			}
			fmt.Println(f.CachePath())
		}

		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat KEY",
	Short: "Write an object's contents to stdout, decompressing gzip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newStore(ctx)
		if err != nil {
			return err
		}

		f, err := s.Stat(ctx, args[0])
		if err != nil {
			return err
		}

		h, err := f.Open(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		_, err = io.Copy(os.Stdout, h)
		return err
	},
}

var prefetchCmd = &cobra.Command{
	Use:   "prefetch PREFIX",
	Short: "Download everything under a prefix into the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newStore(ctx)
		if err != nil {
			return err
		}

		stop := startProgress()
		defer stop()

		return s.Prefetch(ctx, args[0])
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(prefetchCmd)
}
