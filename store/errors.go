// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import "errors"

var (
	ErrInvalidBucketName = errors.New("invalid bucket name")
	ErrObjectNotFound    = errors.New("object not found")
)
