// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics, exposed on --metrics-addr. Counters are fed from
// pipeline results after each run so a long-lived CI runner can scrape
// totals across invocations.
var (
	metricFilesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_files_indexed_total",
		Help: "Files parsed into the codebase map.",
	})
	metricShardsPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_shards_pushed_total",
		Help: "Shard blobs pushed to the data branch.",
	})
	metricPatternsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_patterns_detected_total",
		Help: "Codebase patterns produced by analysis runs.",
	})
	metricReviewComments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_review_comments_total",
		Help: "Review comments that survived filtering and were published.",
	})
	metricRetrievalTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_retrieval_tokens_total",
		Help: "Tokens spent on retrieved context across reviews.",
	})
	metricRetrievalItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "argus_retrieval_items_total",
		Help: "Context items selected, by retrieval strategy.",
	}, []string{"strategy"})
)
