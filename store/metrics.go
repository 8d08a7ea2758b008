// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import "github.com/prometheus/client_golang/prometheus"

type storeMetrics struct {
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	listPages       prometheus.Counter
	downloads       prometheus.Counter
	bytesDownloaded prometheus.Counter
}

func newStoreMetrics() *storeMetrics {
	return &storeMetrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remote_store_cache_hits_total",
			Help: "Opens served from the local cache without a download",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remote_store_cache_misses_total",
			Help: "Opens that had to download the object first",
		}),
		listPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remote_store_list_pages_total",
			Help: "ListObjectsV2 pages fetched",
		}),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remote_store_downloads_total",
			Help: "Objects downloaded into the cache",
		}),
		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remote_store_downloaded_bytes_total",
			Help: "Bytes downloaded into the cache",
		}),
	}
}

func (m *storeMetrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.cacheHits, m.cacheMisses, m.listPages, m.downloads, m.bytesDownloaded,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
