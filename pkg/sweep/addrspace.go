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

// Package sweep implements the resumable scan engine: candidate address
// enumeration, the latency-sorted result store, the paired origin/candidate
// prober, and the batch driver.
package sweep

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"net/netip"
	"os"
	"regexp"

	"github.com/carverauto/edgesweep/pkg/logger"
)

// maxRangeCapacity bounds a single range's enumerable size so wide prefixes
// (v6 in particular) cannot overflow offset arithmetic. The configured
// max_range_len ceiling is applied on top of this by the driver.
const maxRangeCapacity = 1 << 30

// AddressRange is one contiguous candidate block. Enabled starts false and
// is monotonic for the lifetime of a run: it is set when a probe against the
// range succeeds during warm-up, or when a persisted result already covers
// the range.
type AddressRange struct {
	Prefix  netip.Prefix
	Enabled bool
}

// Capacity is the number of enumerable addresses in the range.
func (r *AddressRange) Capacity() int {
	host := r.Prefix.Addr().BitLen() - r.Prefix.Bits()
	if host >= 30 {
		return maxRangeCapacity
	}

	return 1 << host
}

// IP returns the idx-th address of the range, counting from the masked base.
// The second return is false when idx is outside the range. Both families
// share the 128-bit offset path.
func (r *AddressRange) IP(idx int) (netip.Addr, bool) {
	if idx < 0 || idx >= r.Capacity() {
		return netip.Addr{}, false
	}

	base := r.Prefix.Masked().Addr()

	if base.Is4() {
		b := base.As4()
		v := binary.BigEndian.Uint32(b[:]) + uint32(idx)
		binary.BigEndian.PutUint32(b[:], v)

		return netip.AddrFrom4(b), true
	}

	b := base.As16()
	hi := binary.BigEndian.Uint64(b[:8])
	lo := binary.BigEndian.Uint64(b[8:])

	var carry uint64

	lo, carry = bits.Add64(lo, uint64(idx), 0)
	hi, _ = bits.Add64(hi, 0, carry)

	binary.BigEndian.PutUint64(b[:8], hi)
	binary.BigEndian.PutUint64(b[8:], lo)

	return netip.AddrFrom16(b), true
}

// RangeParser extracts CIDR tokens from free-form text. Matchers are
// compiled once at construction and passed around explicitly rather than
// held in package state.
type RangeParser struct {
	v4 *regexp.Regexp
	v6 *regexp.Regexp

	logger logger.Logger
}

func NewRangeParser(log logger.Logger) *RangeParser {
	return &RangeParser{
		v4:     regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}/\d{1,3}`),
		v6:     regexp.MustCompile(`[0-9A-Fa-f:]*:[0-9A-Fa-f:]+/\d{1,3}`),
		logger: log,
	}
}

// Parse scans text for address/prefix tokens. Each match parses
// independently; malformed matches are logged and skipped. Duplicate ranges
// (same masked base and prefix length) collapse to one. Order is
// first-seen, so enumeration is deterministic for a given source.
func (p *RangeParser) Parse(text string) []*AddressRange {
	seen := make(map[netip.Prefix]struct{})

	var ranges []*AddressRange

	tokens := p.v4.FindAllString(text, -1)
	tokens = append(tokens, p.v6.FindAllString(text, -1)...)

	for _, tok := range tokens {
		prefix, err := netip.ParsePrefix(tok)
		if err != nil {
			p.logger.Warn().Str("token", tok).Err(err).Msg("skipping unparseable range token")
			continue
		}

		masked := prefix.Masked()
		if _, dup := seen[masked]; dup {
			continue
		}

		seen[masked] = struct{}{}

		ranges = append(ranges, &AddressRange{Prefix: masked})
	}

	return ranges
}

// ParseFile loads an address-range source file and parses it.
func (p *RangeParser) ParseFile(path string) ([]*AddressRange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read address source %s: %w", path, err)
	}

	ranges := p.Parse(string(data))
	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRanges, path)
	}

	return ranges, nil
}

// MaxOffset is the global per-range offset ceiling: the largest range
// capacity, capped by the configured maximum.
func MaxOffset(ranges []*AddressRange, capLen int) int {
	max := 0

	for _, r := range ranges {
		if c := r.Capacity(); c > max {
			max = c
		}
	}

	if capLen > 0 && max > capLen {
		max = capLen
	}

	return max
}

// EnableCoveredRanges pre-enables every range that already contains a
// persisted result, so auto-skip does not prune ranges a previous run
// proved viable.
func EnableCoveredRanges(ranges []*AddressRange, store *ResultStore) {
	for _, r := range ranges {
		if r.Enabled {
			continue
		}

		if store.Covers(r.Prefix) {
			r.Enabled = true
		}
	}
}
