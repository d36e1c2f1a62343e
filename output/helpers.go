/*
 *
 * surge - a virtual-user load generator for HTTP APIs
 * Copyright (C) 2026 surge authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/liuxd6825/surge/metrics"
)

// RecordBuffer is a simple thread-safe buffer for step records. It should be
// used by most outputs, since we generally want to flush records to the
// backend asynchronously and we don't want to block the Engine in the
// meantime.
type RecordBuffer struct {
	sync.Mutex
	buffer []metrics.Record
	maxLen int
}

// AddRecords adds the given records to the internal buffer.
func (rb *RecordBuffer) AddRecords(records []metrics.Record) {
	rb.Lock()
	rb.buffer = append(rb.buffer, records...)
	rb.Unlock()
}

// GetBufferedRecords returns the currently buffered records and makes a new
// internal buffer with some hopefully realistic size.
func (rb *RecordBuffer) GetBufferedRecords() (buffered []metrics.Record) {
	rb.Lock()
	buffered = rb.buffer
	if len(buffered) > rb.maxLen {
		rb.maxLen = len(buffered)
	}
	// Make the new buffer halfway between the previously allocated size and the
	// maximum buffer size we've seen so far, to hopefully reduce copying a bit.
	rb.buffer = make([]metrics.Record, 0, (len(buffered)+rb.maxLen)/2)
	rb.Unlock()
	return buffered
}

// PeriodicFlusher is a small helper for asynchronously flushing buffered
// records on regular intervals. The biggest benefit is having a Stop() method
// that waits for one last flush before it returns.
type PeriodicFlusher struct {
	period        time.Duration
	flushCallback func()
	stop          chan struct{}
	stopped       chan struct{}
	once          sync.Once
}

func (pf *PeriodicFlusher) run() {
	ticker := time.NewTicker(pf.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pf.flushCallback()
		case <-pf.stop:
			pf.flushCallback()
			close(pf.stopped)
			return
		}
	}
}

// Stop waits for the periodic flusher flush one last time and exit. You can
// safely call Stop() multiple times from different goroutines.
func (pf *PeriodicFlusher) Stop() {
	pf.once.Do(func() {
		close(pf.stop)
	})
	<-pf.stopped
}

// NewPeriodicFlusher creates a new PeriodicFlusher and starts its goroutine.
func NewPeriodicFlusher(period time.Duration, flushCallback func()) (*PeriodicFlusher, error) {
	if period <= 0 {
		return nil, fmt.Errorf("record flush period should be positive but was %s", period)
	}

	pf := &PeriodicFlusher{
		period:        period,
		flushCallback: flushCallback,
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go pf.run()

	return pf, nil
}
