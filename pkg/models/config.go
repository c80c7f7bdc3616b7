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

package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	ErrInvalidPortBase    = errors.New("port_base must be between 1 and 65535")
	ErrInvalidConnCount   = errors.New("max_connection_count must be positive")
	ErrInvalidMaxRTT      = errors.New("max_rtt must be positive")
	ErrInvalidMaxRangeLen = errors.New("max_range_len must be positive")
	ErrMissingOriginURL   = errors.New("origin_url is required")
)

// ScanConfig is the scanner configuration record, loaded from JSON in the
// data directory.
type ScanConfig struct {
	// PortBase is the first local listener port; batch member i probes
	// through PortBase+i.
	PortBase int `json:"port_base"`
	// MaxConnectionCount bounds batch size and therefore in-flight probes.
	MaxConnectionCount int `json:"max_connection_count"`
	// OriginURL is the known-reachable reference endpoint fetched through
	// the tunnel.
	OriginURL string `json:"origin_url"`
	// CDNURL is the CDN-facing endpoint. Empty means "derive
	// http://<candidate>" per probe.
	CDNURL string `json:"cdn_url"`
	// ListenIP is the local address the tunnel listeners bind. Empty makes
	// the origin leg go direct instead of through the tunnel.
	ListenIP string `json:"listen_ip"`
	// MaxRTT is the per-leg probe timeout.
	MaxRTT Duration `json:"max_rtt"`
	// OriginBody / CDNBody are substrings a leg's response body must
	// contain for the leg to count as a success.
	OriginBody string `json:"origin_body"`
	CDNBody    string `json:"cdn_body"`
	// MaxRangeLen caps the per-range offset ceiling.
	MaxRangeLen int `json:"max_range_len"`
	// TunnelBinary is the external tunnel process to spawn per batch.
	TunnelBinary string `json:"tunnel_binary"`

	Logging *struct {
		Level  string `json:"level"`
		Debug  bool   `json:"debug"`
		Output string `json:"output"`
	} `json:"logging,omitempty"`
}

func (c *ScanConfig) Validate() error {
	if c.PortBase <= 0 || c.PortBase > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPortBase, c.PortBase)
	}

	if c.MaxConnectionCount <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidConnCount, c.MaxConnectionCount)
	}

	if c.MaxRTT <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidMaxRTT, time.Duration(c.MaxRTT))
	}

	if c.MaxRangeLen <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxRangeLen, c.MaxRangeLen)
	}

	if c.OriginURL == "" {
		return ErrMissingOriginURL
	}

	if _, err := url.Parse(c.OriginURL); err != nil {
		return fmt.Errorf("origin_url %q: %w", c.OriginURL, err)
	}

	if c.TunnelBinary == "" {
		c.TunnelBinary = "./sing-box"
	}

	return nil
}
