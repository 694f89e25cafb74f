// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Stats is a snapshot of the loader counters.
type Stats struct {
	// Batches successfully pushed to the queue.
	Batches int64

	// DroppedBatches is the number of batches discarded because at least one of its samples failed.
	DroppedBatches int64

	// FailedSamples counts the individual preprocessing failures.
	FailedSamples int64
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("%s batches produced, %s dropped (%s failed samples)",
		humanize.Comma(s.Batches), humanize.Comma(s.DroppedBatches), humanize.Comma(s.FailedSamples))
}

// counters are shared by all workers.
type counters struct {
	batches, droppedBatches, failedSamples atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Batches:        c.batches.Load(),
		DroppedBatches: c.droppedBatches.Load(),
		FailedSamples:  c.failedSamples.Load(),
	}
}
