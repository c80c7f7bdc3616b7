/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sweep

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
)

// Cursor is the persisted scan position: which range the next tick visits
// and the per-range offset currently being swept. It is written once per
// completed batch, never mid-batch, so a restart resumes from the last
// fully-processed batch boundary.
type Cursor struct {
	RangeIndex int `json:"range_index"`
	Offset     int `json:"offset"`
}

// LoadCursor reads a persisted cursor. A missing file is an error the caller
// maps to a fresh zero cursor; malformed contents are fatal.
func LoadCursor(path string) (*Cursor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cursor %s: %w", path, err)
	}

	var c Cursor

	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse cursor %s: %w", path, err)
	}

	return &c, nil
}

// Validate rejects persisted positions inconsistent with the current range
// set or offset ceiling.
func (c *Cursor) Validate(numRanges, maxOffset int) error {
	if c.RangeIndex < 0 || c.RangeIndex >= numRanges {
		return fmt.Errorf("%w: range_index %d, but %d ranges", ErrCursorRangeIndex, c.RangeIndex, numRanges)
	}

	if c.Offset < 0 || c.Offset >= maxOffset {
		return fmt.Errorf("%w: offset %d, but max offset %d", ErrCursorOffset, c.Offset, maxOffset)
	}

	return nil
}

func (c *Cursor) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write cursor %s: %w", path, err)
	}

	return nil
}

// BatchPlan is one batch of candidates plus, per candidate, the range it
// came from and the offset it was generated at. The range index lets a
// warm-up success enable the right range; the offset decides whether the
// success happened during warm-up at all, independent of how far the
// cursor advanced while assembling the batch.
type BatchPlan struct {
	Addrs      []netip.Addr
	RangeIdxes []int
	Offsets    []int
}

// Enumerator walks the address space depth-first by offset and
// breadth-first by range: for each offset every range is visited once, in
// range-list order, before the offset advances. All ranges are therefore
// sampled evenly over time.
type Enumerator struct {
	Ranges          []*AddressRange
	MaxOffset       int
	AutoSkip        bool
	EnableThreshold int
}

// eligible reports whether a range participates at the given offset. Below
// the enable threshold every range is probed (warm-up); past it only ranges
// proven to contain a reachable candidate keep being swept.
func (e *Enumerator) eligible(r *AddressRange, offset int) bool {
	return !e.AutoSkip || offset < e.EnableThreshold || r.Enabled
}

// NextBatch advances cur tick by tick, filling up to max candidates. It
// stops early when the scan is exhausted. crossed reports that the offset
// rolled over the enable threshold during assembly, at which point the
// eligible-range set (and total remaining work) changes discontinuously and
// progress accounting must be recomputed.
func (e *Enumerator) NextBatch(cur *Cursor, max int) (plan BatchPlan, crossed bool) {
	for len(plan.Addrs) < max && cur.Offset < e.MaxOffset {
		r := e.Ranges[cur.RangeIndex]

		if e.eligible(r, cur.Offset) {
			if ip, ok := r.IP(cur.Offset); ok {
				plan.Addrs = append(plan.Addrs, ip)
				plan.RangeIdxes = append(plan.RangeIdxes, cur.RangeIndex)
				plan.Offsets = append(plan.Offsets, cur.Offset)
			}
		}

		cur.RangeIndex++

		if cur.RangeIndex == len(e.Ranges) {
			cur.RangeIndex = 0
			cur.Offset++

			if e.AutoSkip && cur.Offset == e.EnableThreshold {
				crossed = true
			}
		}
	}

	return plan, crossed
}

// rangeLen is the number of addresses a range contributes to the whole
// scan, as seen from the given offset: zero once auto-skip has pruned it.
func (e *Enumerator) rangeLen(r *AddressRange, offset int) int {
	if !e.eligible(r, offset) {
		return 0
	}

	if c := r.Capacity(); c < e.MaxOffset {
		return c
	}

	return e.MaxOffset
}

// TotalCount is the total number of candidates the scan will visit, as seen
// from the given offset.
func (e *Enumerator) TotalCount(offset int) int {
	total := 0

	for _, r := range e.Ranges {
		total += e.rangeLen(r, offset)
	}

	return total
}

// CompletedCount is how many candidates precede the cursor position, for
// progress reporting after a resume or a threshold crossing.
func (e *Enumerator) CompletedCount(cur *Cursor) int {
	count := 0

	for i, r := range e.Ranges {
		n := e.rangeLen(r, cur.Offset)

		if n < cur.Offset {
			count += n
		} else {
			count += cur.Offset
		}

		// Ranges already visited this sweep count one extra tick, but only
		// if they still emit at the current offset.
		if i < cur.RangeIndex && n > cur.Offset {
			count++
		}
	}

	return count
}
