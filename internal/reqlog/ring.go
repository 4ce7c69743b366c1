// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package reqlog

import (
	"sync"
	"time"
)

// Ring is the shipped in-memory sink: a capacity-bounded record ring
// with age-based pruning. Oldest records fall off first.
type Ring struct {
	mu        sync.Mutex
	records   []Record
	capacity  int
	retention time.Duration
	now       func() time.Time
}

// NewRing builds a ring keeping at most capacity records for at most
// retentionDays days. capacity <= 0 falls back to 10000; retentionDays
// <= 0 disables age pruning.
func NewRing(capacity, retentionDays int) *Ring {
	if capacity <= 0 {
		capacity = 10000
	}
	var retention time.Duration
	if retentionDays > 0 {
		retention = time.Duration(retentionDays) * 24 * time.Hour
	}
	return &Ring{capacity: capacity, retention: retention, now: time.Now}
}

// Append implements Sink.
func (r *Ring) Append(records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	r.prune()
	return nil
}

// prune drops aged-out records, then trims to capacity from the front.
func (r *Ring) prune() {
	if r.retention > 0 {
		cutoff := r.now().Add(-r.retention)
		i := 0
		for i < len(r.records) && r.records[i].Time.Before(cutoff) {
			i++
		}
		r.records = r.records[i:]
	}
	if over := len(r.records) - r.capacity; over > 0 {
		r.records = r.records[over:]
	}
}

// List returns up to limit records, newest first. limit <= 0 returns
// everything.
func (r *Ring) List(limit int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, limit)
	for i := 0; i < limit; i++ {
		out[i] = r.records[n-1-i]
	}
	return out
}

// Len reports the stored record count.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
