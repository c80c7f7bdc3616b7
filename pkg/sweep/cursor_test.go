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
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRanges(prefixes ...string) []*AddressRange {
	ranges := make([]*AddressRange, 0, len(prefixes))
	for _, p := range prefixes {
		ranges = append(ranges, &AddressRange{Prefix: netip.MustParsePrefix(p)})
	}

	return ranges
}

// drain enumerates to exhaustion in batches of batchSize and returns the
// full candidate sequence.
func drain(e *Enumerator, cur *Cursor, batchSize int) []netip.Addr {
	var seq []netip.Addr

	for cur.Offset < e.MaxOffset {
		plan, _ := e.NextBatch(cur, batchSize)
		seq = append(seq, plan.Addrs...)
	}

	return seq
}

func TestCursorSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")

	want := &Cursor{RangeIndex: 3, Offset: 41}
	require.NoError(t, want.Save(path))

	got, err := LoadCursor(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCursorLoadMissing(t *testing.T) {
	_, err := LoadCursor(filepath.Join(t.TempDir(), "absent.json"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCursorLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadCursor(path)
	require.Error(t, err)
	require.NotErrorIs(t, err, fs.ErrNotExist)
}

func TestCursorValidate(t *testing.T) {
	tests := []struct {
		name    string
		cursor  Cursor
		wantErr error
	}{
		{"ok", Cursor{RangeIndex: 2, Offset: 5}, nil},
		{"zero", Cursor{}, nil},
		{"range index too large", Cursor{RangeIndex: 3}, ErrCursorRangeIndex},
		{"negative range index", Cursor{RangeIndex: -1}, ErrCursorRangeIndex},
		{"offset too large", Cursor{Offset: 10}, ErrCursorOffset},
		{"negative offset", Cursor{Offset: -1}, ErrCursorOffset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cursor.Validate(3, 10)

			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestEnumeratorOrder(t *testing.T) {
	// Depth-first by offset, breadth-first by range: offset 0 visits every
	// range before offset 1 starts. The /31 range drops out once its
	// capacity is exhausted.
	enum := &Enumerator{
		Ranges:    testRanges("10.0.0.0/30", "10.1.0.0/31"),
		MaxOffset: 4,
	}

	cur := &Cursor{}
	seq := drain(enum, cur, 100)

	want := []string{
		"10.0.0.0", "10.1.0.0",
		"10.0.0.1", "10.1.0.1",
		"10.0.0.2",
		"10.0.0.3",
	}

	require.Len(t, seq, len(want))

	for i, ip := range seq {
		assert.Equal(t, want[i], ip.String())
	}

	assert.Equal(t, 4, cur.Offset)
	assert.Equal(t, 0, cur.RangeIndex)
}

func TestEnumeratorResumeMatchesUninterrupted(t *testing.T) {
	newEnum := func() *Enumerator {
		return &Enumerator{
			Ranges:    testRanges("10.0.0.0/24", "10.1.0.0/24", "10.2.0.0/24"),
			MaxOffset: 8,
		}
	}

	full := drain(newEnum(), &Cursor{}, 5)

	// (rangeIndex=2, offset=5) means 5 full sweeps of 3 ranges plus 2
	// ticks are already done.
	resumed := drain(newEnum(), &Cursor{RangeIndex: 2, Offset: 5}, 5)

	require.Equal(t, full[5*3+2:], resumed)
}

func TestEnumeratorEligibility(t *testing.T) {
	ranges := testRanges("10.0.0.0/24", "10.1.0.0/24")
	ranges[1].Enabled = true

	enum := &Enumerator{
		Ranges:          ranges,
		MaxOffset:       3,
		AutoSkip:        true,
		EnableThreshold: 1,
	}

	seq := drain(enum, &Cursor{}, 100)

	// Offset 0 is warm-up (both ranges); offsets 1 and 2 only visit the
	// enabled range.
	want := []string{
		"10.0.0.0", "10.1.0.0",
		"10.1.0.1",
		"10.1.0.2",
	}

	require.Len(t, seq, len(want))

	for i, ip := range seq {
		assert.Equal(t, want[i], ip.String())
	}
}

func TestEnumeratorNoAutoSkipIgnoresEnabled(t *testing.T) {
	enum := &Enumerator{
		Ranges:          testRanges("10.0.0.0/24", "10.1.0.0/24"),
		MaxOffset:       3,
		EnableThreshold: 1,
	}

	seq := drain(enum, &Cursor{}, 100)
	assert.Len(t, seq, 6)
}

func TestEnumeratorThresholdCrossing(t *testing.T) {
	enum := &Enumerator{
		Ranges:          testRanges("10.0.0.0/24", "10.1.0.0/24"),
		MaxOffset:       4,
		AutoSkip:        true,
		EnableThreshold: 2,
	}

	cur := &Cursor{}

	_, crossed := enum.NextBatch(cur, 2) // offset 0
	assert.False(t, crossed)

	_, crossed = enum.NextBatch(cur, 2) // offset 1 -> rolls into 2
	assert.True(t, crossed)
}

func TestEnumeratorBatchFill(t *testing.T) {
	enum := &Enumerator{
		Ranges:    testRanges("10.0.0.0/24", "10.1.0.0/24", "10.2.0.0/24"),
		MaxOffset: 4,
	}

	cur := &Cursor{}

	plan, _ := enum.NextBatch(cur, 4)
	require.Len(t, plan.Addrs, 4)
	assert.Equal(t, []int{0, 1, 2, 0}, plan.RangeIdxes)
	assert.Equal(t, 1, cur.RangeIndex)
	assert.Equal(t, 1, cur.Offset)
}

func TestEnumeratorCounts(t *testing.T) {
	ranges := testRanges("10.0.0.0/30", "10.1.0.0/24")
	ranges[0].Enabled = true

	enum := &Enumerator{
		Ranges:          ranges,
		MaxOffset:       8,
		AutoSkip:        true,
		EnableThreshold: 2,
	}

	// Warm-up: both ranges count, the /30 saturates at its capacity.
	assert.Equal(t, 4+8, enum.TotalCount(0))

	// Past the threshold the disabled /24 stops counting.
	assert.Equal(t, 4, enum.TotalCount(2))

	// Completed work: with offset 1 and range index 1, the /30 contributed
	// min(4,1)+1 (one extra tick this sweep) and the /24 contributed 1.
	assert.Equal(t, 3, enum.CompletedCount(&Cursor{RangeIndex: 1, Offset: 1}))

	// A range exhausted before the current offset gets no extra tick: the
	// /30 holds 4 addresses, all counted, none at offset 5; the pruned /24
	// contributes nothing past the threshold.
	assert.Equal(t, 4, enum.CompletedCount(&Cursor{RangeIndex: 1, Offset: 5}))
}
