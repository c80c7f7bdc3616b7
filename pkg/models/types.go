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

// Package models defines shared types for the edgesweep scanner.
package models

import (
	"encoding/json"
	"time"
)

// LatencyRecord is one measurement for a candidate address: the round-trip
// to the reference origin through the tunnel, and the round-trip to the
// CDN-facing endpoint routed directly at the candidate. Immutable once
// produced.
type LatencyRecord struct {
	OriginRTT    uint64 `json:"origin_rtt"`
	CandidateRTT uint64 `json:"candidate_rtt"`
}

// Less orders records by (OriginRTT, CandidateRTT) ascending.
func (r LatencyRecord) Less(other LatencyRecord) bool {
	if r.OriginRTT != other.OriginRTT {
		return r.OriginRTT < other.OriginRTT
	}

	return r.CandidateRTT < other.CandidateRTT
}

// Duration unmarshals from a Go duration string ("500ms", "2s") or a bare
// number of nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string

	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			*d = Duration(0)
			return nil
		}

		dur, err := time.ParseDuration(s)
		if err != nil {
			return err
		}

		*d = Duration(dur)

		return nil
	}

	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}

	*d = Duration(n)

	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
