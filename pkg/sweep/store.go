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
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/carverauto/edgesweep/pkg/models"
)

// ResultStore maps candidate addresses to their latest latency record and
// maintains a latency-ordered index over them. Writes go to a staging set;
// Commit folds staged entries into the ordered index with a two-pointer
// merge, so prior history is never re-sorted.
//
// Between commits the ordered index excludes staged entries; after every
// Commit it is a duplicate-free permutation of the mapping's keys, sorted
// ascending by (origin RTT, candidate RTT).
type ResultStore struct {
	res     map[netip.Addr]models.LatencyRecord
	ordered []netip.Addr
	staging map[netip.Addr]struct{}

	line *regexp.Regexp
}

func NewResultStore() *ResultStore {
	return &ResultStore{
		res:     make(map[netip.Addr]models.LatencyRecord),
		staging: make(map[netip.Addr]struct{}),
		line:    regexp.MustCompile(`^ip: (\S+), origin_rtt: (\d+), candidate_rtt: (\d+)$`),
	}
}

func (s *ResultStore) Len() int {
	return len(s.res)
}

// Record returns the stored record for addr.
func (s *ResultStore) Record(addr netip.Addr) (models.LatencyRecord, bool) {
	rec, ok := s.res[addr]
	return rec, ok
}

// Ordered returns a copy of the committed latency-sorted address sequence.
func (s *ResultStore) Ordered() []netip.Addr {
	out := make([]netip.Addr, len(s.ordered))
	copy(out, s.ordered)

	return out
}

// Covers reports whether any stored address falls inside prefix.
func (s *ResultStore) Covers(prefix netip.Prefix) bool {
	for addr := range s.res {
		if prefix.Contains(addr) {
			return true
		}
	}

	return false
}

// Add stages a measurement. The latest record always wins, even when the
// address was measured before; the ordered index is untouched until Commit.
func (s *ResultStore) Add(addr netip.Addr, rec models.LatencyRecord) {
	s.staging[addr] = struct{}{}
	s.res[addr] = rec
}

// Commit merges staged entries into the ordered index in O(n+m). No-op when
// nothing is staged, so calling it twice is safe.
//
// Tie-break on equal records: staged entries are placed before committed
// ones (newest first); staged entries equal to each other order by address.
func (s *ResultStore) Commit() {
	if len(s.staging) == 0 {
		return
	}

	staged := make([]netip.Addr, 0, len(s.staging))
	for addr := range s.staging {
		staged = append(staged, addr)
	}

	sort.Slice(staged, func(i, j int) bool {
		ri, rj := s.res[staged[i]], s.res[staged[j]]
		if ri != rj {
			return ri.Less(rj)
		}

		return staged[i].Less(staged[j])
	})

	merged := make([]netip.Addr, 0, len(s.ordered)+len(staged))

	i, j := 0, 0
	for i < len(s.ordered) || j < len(staged) {
		if i < len(s.ordered) {
			// Re-measured addresses moved to the staging side; drop
			// their old position.
			if _, moved := s.staging[s.ordered[i]]; moved {
				i++
				continue
			}
		}

		switch {
		case i >= len(s.ordered):
			merged = append(merged, staged[j])
			j++
		case j >= len(staged):
			merged = append(merged, s.ordered[i])
			i++
		case s.res[s.ordered[i]].Less(s.res[staged[j]]):
			merged = append(merged, s.ordered[i])
			i++
		default:
			merged = append(merged, staged[j])
			j++
		}
	}

	s.ordered = merged
	s.staging = make(map[netip.Addr]struct{})
}

// Save writes one line per address in committed order.
func (s *ResultStore) Save(path string) error {
	var b strings.Builder

	for _, addr := range s.ordered {
		rec := s.res[addr]
		fmt.Fprintf(&b, "ip: %s, origin_rtt: %d, candidate_rtt: %d\n", addr, rec.OriginRTT, rec.CandidateRTT)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write results %s: %w", path, err)
	}

	return nil
}

// Load replaces the store contents with a persisted result file. Any
// malformed or duplicate line rejects the whole file: garbled state cannot
// be trusted for resumption. The ordered index is rebuilt from file order,
// re-sorted stably as an integrity check.
func (s *ResultStore) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read results %s: %w", path, err)
	}

	res := make(map[netip.Addr]models.LatencyRecord)
	ordered := make([]netip.Addr, 0)

	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSuffix(raw, "\r")
		if line == "" {
			continue
		}

		m := s.line.FindStringSubmatch(line)
		if m == nil {
			return fmt.Errorf("%w in %s: %q", ErrMalformedResultLine, path, line)
		}

		addr, err := netip.ParseAddr(m[1])
		if err != nil {
			return fmt.Errorf("%w in %s: %q: %w", ErrMalformedResultLine, path, line, err)
		}

		originRTT, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			return fmt.Errorf("%w in %s: %q: %w", ErrMalformedResultLine, path, line, err)
		}

		candidateRTT, err := strconv.ParseUint(m[3], 10, 64)
		if err != nil {
			return fmt.Errorf("%w in %s: %q: %w", ErrMalformedResultLine, path, line, err)
		}

		if _, dup := res[addr]; dup {
			return fmt.Errorf("%w in %s: %s", ErrDuplicateResultAddr, path, addr)
		}

		res[addr] = models.LatencyRecord{OriginRTT: originRTT, CandidateRTT: candidateRTT}
		ordered = append(ordered, addr)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return res[ordered[i]].Less(res[ordered[j]])
	})

	s.res = res
	s.ordered = ordered
	s.staging = make(map[netip.Addr]struct{})

	return nil
}
