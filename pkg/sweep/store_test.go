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

	"github.com/carverauto/edgesweep/pkg/models"
)

func addr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func rec(origin, candidate uint64) models.LatencyRecord {
	return models.LatencyRecord{OriginRTT: origin, CandidateRTT: candidate}
}

// requireSorted asserts the committed invariant: the ordered sequence is a
// duplicate-free permutation of the mapping keys, sorted ascending by
// (origin RTT, candidate RTT).
func requireSorted(t *testing.T, s *ResultStore) {
	t.Helper()

	ordered := s.Ordered()
	require.Len(t, ordered, s.Len())

	seen := make(map[netip.Addr]struct{}, len(ordered))

	for i, a := range ordered {
		_, dup := seen[a]
		require.False(t, dup, "duplicate %s in ordered sequence", a)

		seen[a] = struct{}{}

		r, ok := s.Record(a)
		require.True(t, ok, "%s in ordered sequence but not in mapping", a)

		if i > 0 {
			prev, _ := s.Record(ordered[i-1])
			require.False(t, r.Less(prev), "ordered sequence not sorted at %d", i)
		}
	}
}

func TestResultStoreCommitSortsStaged(t *testing.T) {
	s := NewResultStore()

	s.Add(addr("1.0.0.1"), rec(50, 80))
	s.Add(addr("1.0.0.2"), rec(10, 20))

	// Ordered index is untouched until commit.
	assert.Empty(t, s.Ordered())

	s.Commit()

	assert.Equal(t, []netip.Addr{addr("1.0.0.2"), addr("1.0.0.1")}, s.Ordered())
	requireSorted(t, s)
}

func TestResultStoreRelocatesUpdatedAddress(t *testing.T) {
	s := NewResultStore()

	s.Add(addr("1.0.0.1"), rec(50, 80))
	s.Add(addr("1.0.0.2"), rec(10, 20))
	s.Commit()

	// New measurement always wins and moves the address to its new
	// position on the next commit.
	s.Add(addr("1.0.0.1"), rec(5, 5))
	s.Commit()

	assert.Equal(t, []netip.Addr{addr("1.0.0.1"), addr("1.0.0.2")}, s.Ordered())

	r, ok := s.Record(addr("1.0.0.1"))
	require.True(t, ok)
	assert.Equal(t, rec(5, 5), r)

	requireSorted(t, s)
}

func TestResultStoreCommitIdempotent(t *testing.T) {
	s := NewResultStore()

	s.Add(addr("1.0.0.1"), rec(30, 30))
	s.Add(addr("1.0.0.2"), rec(20, 99))
	s.Commit()

	before := s.Ordered()

	s.Commit()

	assert.Equal(t, before, s.Ordered())
}

func TestResultStoreMergeInterleaves(t *testing.T) {
	s := NewResultStore()

	s.Add(addr("1.0.0.1"), rec(10, 0))
	s.Add(addr("1.0.0.2"), rec(30, 0))
	s.Add(addr("1.0.0.3"), rec(50, 0))
	s.Commit()

	s.Add(addr("2.0.0.1"), rec(5, 0))
	s.Add(addr("2.0.0.2"), rec(20, 0))
	s.Add(addr("2.0.0.3"), rec(40, 0))
	s.Add(addr("2.0.0.4"), rec(60, 0))
	s.Commit()

	want := []netip.Addr{
		addr("2.0.0.1"), addr("1.0.0.1"), addr("2.0.0.2"), addr("1.0.0.2"),
		addr("2.0.0.3"), addr("1.0.0.3"), addr("2.0.0.4"),
	}
	assert.Equal(t, want, s.Ordered())

	requireSorted(t, s)
}

func TestResultStoreEqualKeyTieBreak(t *testing.T) {
	s := NewResultStore()

	s.Add(addr("9.0.0.9"), rec(10, 10))
	s.Commit()

	// A staged entry with an identical record lands before the committed
	// one: newest first on ties.
	s.Add(addr("1.0.0.1"), rec(10, 10))
	s.Commit()

	assert.Equal(t, []netip.Addr{addr("1.0.0.1"), addr("9.0.0.9")}, s.Ordered())
}

func TestResultStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.txt")

	s := NewResultStore()
	s.Add(addr("1.0.0.1"), rec(50, 80))
	s.Add(addr("1.0.0.2"), rec(10, 20))
	s.Add(addr("2001:db8::1"), rec(10, 5))
	s.Commit()

	require.NoError(t, s.Save(path))

	loaded := NewResultStore()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, s.Ordered(), loaded.Ordered())
	assert.Equal(t, s.Len(), loaded.Len())

	for _, a := range s.Ordered() {
		wantRec, _ := s.Record(a)
		gotRec, ok := loaded.Record(a)
		require.True(t, ok)
		assert.Equal(t, wantRec, gotRec)
	}

	requireSorted(t, loaded)
}

func TestResultStoreLoadMissing(t *testing.T) {
	s := NewResultStore()
	err := s.Load(filepath.Join(t.TempDir(), "absent.txt"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestResultStoreLoadRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"garbage line", "ip: 1.0.0.1, origin_rtt: 10, candidate_rtt: 20\nwhat is this\n", ErrMalformedResultLine},
		{"bad address", "ip: 1.0.0.300, origin_rtt: 10, candidate_rtt: 20\n", ErrMalformedResultLine},
		{"missing field", "ip: 1.0.0.1, origin_rtt: 10\n", ErrMalformedResultLine},
		{"duplicate address", "ip: 1.0.0.1, origin_rtt: 10, candidate_rtt: 20\nip: 1.0.0.1, origin_rtt: 5, candidate_rtt: 5\n", ErrDuplicateResultAddr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "results.txt")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			s := NewResultStore()
			err := s.Load(path)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestResultStoreLoadTolerantOfBlankLinesAndCR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.txt")
	content := "ip: 1.0.0.1, origin_rtt: 10, candidate_rtt: 20\r\n\nip: 1.0.0.2, origin_rtt: 5, candidate_rtt: 5\r\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := NewResultStore()
	require.NoError(t, s.Load(path))

	assert.Equal(t, 2, s.Len())
	requireSorted(t, s)
}

func TestResultStoreCovers(t *testing.T) {
	s := NewResultStore()
	s.Add(addr("10.0.0.7"), rec(1, 1))
	s.Commit()

	assert.True(t, s.Covers(netip.MustParsePrefix("10.0.0.0/24")))
	assert.False(t, s.Covers(netip.MustParsePrefix("10.1.0.0/24")))
}

func TestEnableCoveredRanges(t *testing.T) {
	s := NewResultStore()
	s.Add(addr("10.0.0.7"), rec(1, 1))
	s.Commit()

	ranges := testRanges("10.0.0.0/24", "10.1.0.0/24")
	EnableCoveredRanges(ranges, s)

	assert.True(t, ranges[0].Enabled)
	assert.False(t, ranges[1].Enabled)
}
