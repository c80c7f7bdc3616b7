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
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/edgesweep/pkg/logger"
	"github.com/carverauto/edgesweep/pkg/models"
)

const mismatchBodySample = 512

// BodyMismatchError reports a leg whose response arrived but did not
// contain the expected substring. It usually means the request was routed
// somewhere other than the intended endpoint, so it is surfaced separately
// from network failures.
type BodyMismatchError struct {
	Expected string
	Body     string
}

func (e *BodyMismatchError) Error() string {
	return fmt.Sprintf("expected body %q not found in response %q", e.Expected, e.Body)
}

// PairProber measures one candidate with two concurrent HTTP legs: the
// origin leg through the candidate's tunnel listener, and the candidate leg
// dialed straight at the candidate address under the configured hostname.
type PairProber struct {
	cfg *models.ScanConfig

	originURL *url.URL
	// cdnURL is nil when cdn_url is empty; the target is then derived from
	// the candidate address per probe.
	cdnURL  *url.URL
	cdnHost string
	cdnPort string

	warnBodyMismatch bool
	logger           logger.Logger
}

// NewPairProber validates endpoint configuration once, up front, so per-pair
// work never re-parses URLs.
func NewPairProber(cfg *models.ScanConfig, warnBodyMismatch bool, log logger.Logger) (*PairProber, error) {
	originURL, err := url.Parse(cfg.OriginURL)
	if err != nil {
		return nil, fmt.Errorf("origin_url %q: %w", cfg.OriginURL, err)
	}

	p := &PairProber{
		cfg:              cfg,
		originURL:        originURL,
		warnBodyMismatch: warnBodyMismatch,
		logger:           log,
	}

	if cfg.CDNURL == "" {
		return p, nil
	}

	cdnURL, err := url.Parse(cfg.CDNURL)
	if err != nil {
		return nil, fmt.Errorf("cdn_url %q: %w", cfg.CDNURL, err)
	}

	if cdnURL.Scheme != "http" && cdnURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: got %q", ErrCDNURLScheme, cdnURL.Scheme)
	}

	host := cdnURL.Hostname()
	if net.ParseIP(host) != nil {
		return nil, fmt.Errorf("%w: got %q", ErrCDNURLHost, host)
	}

	port := cdnURL.Port()
	if port == "" {
		if cdnURL.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	p.cdnURL = cdnURL
	p.cdnHost = host
	p.cdnPort = port

	return p, nil
}

// Run probes every batch member concurrently and returns one entry per
// member, order preserved; nil marks a failed pair. Per-pair failures never
// abort the batch, and Run returns only after every pair has finished.
func (p *PairProber) Run(ctx context.Context, addrs []netip.Addr) []*models.LatencyRecord {
	out := make([]*models.LatencyRecord, len(addrs))

	var wg sync.WaitGroup

	for i, addr := range addrs {
		wg.Add(1)

		go func(i int, addr netip.Addr) {
			defer wg.Done()

			rec, err := p.probePair(ctx, addr, i)
			if err != nil {
				var mismatch *BodyMismatchError

				if p.warnBodyMismatch && errors.As(err, &mismatch) {
					p.logger.Warn().
						Str("ip", addr.String()).
						Err(err).
						Msg("response body mismatch, request likely misrouted")
				} else {
					p.logger.Debug().
						Str("ip", addr.String()).
						Err(err).
						Msg("probe failed")
				}

				return
			}

			out[i] = rec
		}(i, addr)
	}

	wg.Wait()

	return out
}

// probePair runs the two legs concurrently; the pair succeeds only if both
// legs do. Each leg carries its own MaxRTT timeout, so a stuck leg times out
// instead of blocking the batch.
func (p *PairProber) probePair(ctx context.Context, addr netip.Addr, idx int) (*models.LatencyRecord, error) {
	var originRTT, candidateRTT uint64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		client, err := p.originClient(idx)
		if err != nil {
			return err
		}

		rtt, err := timedGet(gctx, client, p.originURL.String(), p.cfg.OriginBody)
		if err != nil {
			return fmt.Errorf("origin leg: %w", err)
		}

		originRTT = rtt

		return nil
	})

	g.Go(func() error {
		client, target := p.candidateClient(addr)

		rtt, err := timedGet(gctx, client, target, p.cfg.CDNBody)
		if err != nil {
			return fmt.Errorf("candidate leg: %w", err)
		}

		candidateRTT = rtt

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.LatencyRecord{OriginRTT: originRTT, CandidateRTT: candidateRTT}, nil
}

// originClient builds the per-member HTTP client for the origin leg. With a
// listen IP configured the request goes through the member's SOCKS5 tunnel
// listener at port base+idx; without one it goes direct.
func (p *PairProber) originClient(idx int) (*http.Client, error) {
	timeout := time.Duration(p.cfg.MaxRTT)

	if p.cfg.ListenIP == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	proxyAddr := net.JoinHostPort(p.cfg.ListenIP, strconv.Itoa(p.cfg.PortBase+idx))

	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer for %s: %w", proxyAddr, err)
	}

	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer for %s does not support context dialing", proxyAddr)
	}

	return &http.Client{
		Transport: &http.Transport{DialContext: contextDialer.DialContext},
		Timeout:   timeout,
	}, nil
}

// candidateClient builds the client and target URL for the candidate leg.
// With a configured CDN URL the dial address is overridden to the candidate
// while the URL keeps the hostname, preserving Host header and SNI. With no
// CDN URL the candidate itself is fetched over plain HTTP.
func (p *PairProber) candidateClient(addr netip.Addr) (*http.Client, string) {
	timeout := time.Duration(p.cfg.MaxRTT)

	if p.cdnURL == nil {
		target := url.URL{Scheme: "http", Host: hostForURL(addr)}
		return &http.Client{Timeout: timeout}, target.String()
	}

	dialAddr := net.JoinHostPort(addr.String(), p.cdnPort)

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, dialAddr)
		},
	}

	return &http.Client{Transport: transport, Timeout: timeout}, p.cdnURL.String()
}

func hostForURL(addr netip.Addr) string {
	if addr.Is6() {
		return "[" + addr.String() + "]"
	}

	return addr.String()
}

// timedGet measures one leg: request start to body fully read, in
// milliseconds. The leg succeeds only when the body contains expect.
func timedGet(ctx context.Context, client *http.Client, rawURL, expect string) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request %s: %w", rawURL, err)
	}

	start := time.Now()

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", rawURL, err)
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if err != nil {
		return 0, fmt.Errorf("read body %s: %w", rawURL, err)
	}

	if !strings.Contains(string(body), expect) {
		sample := string(body)
		if len(sample) > mismatchBodySample {
			sample = sample[:mismatchBodySample]
		}

		return 0, &BodyMismatchError{Expected: expect, Body: sample}
	}

	return uint64(time.Since(start).Milliseconds()), nil
}
