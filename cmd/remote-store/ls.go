// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

const lsTimeFormat = "2006-01-02 15:04:05"

var lsCmd = &cobra.Command{
	Use:   "ls [prefix...]",
	Short: "List bucket objects matching one or more prefixes",
	Long: `List the objects in the bucket whose keys start with any of the
given prefixes. With no arguments the whole bucket is listed. Output
order follows the prefixes, then S3 listing order within each.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := newStore(ctx)
		if err != nil {
			return err
		}

		prefixes := args
		if len(prefixes) == 0 {
			prefixes = []string{""}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		for _, it := range s.LsMulti(prefixes...) {
			for {
				f, err := it.Next(ctx)
				if err != nil {
					return err
				}
				if f == nil {
					break
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", f.Size, f.Modified.Format(lsTimeFormat), f.Key)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
