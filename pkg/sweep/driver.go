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
	"fmt"
	"net/netip"

	"github.com/google/uuid"

	"github.com/carverauto/edgesweep/pkg/logger"
	"github.com/carverauto/edgesweep/pkg/models"
)

// TunnelHandle owns one running tunnel process. Stop is idempotent and
// returns only after the process is down and its listener ports are free.
type TunnelHandle interface {
	Stop()
}

// TunnelRunner provisions a tunnel exposing one local listener per batch
// member, each routed to that member's address.
type TunnelRunner interface {
	Start(ctx context.Context, addrs []netip.Addr) (TunnelHandle, error)
}

// BatchProber measures a batch, one entry per member in order, nil marking
// a failed pair.
type BatchProber interface {
	Run(ctx context.Context, addrs []netip.Addr) []*models.LatencyRecord
}

// DriverOptions are the run-scoped persistence destinations.
type DriverOptions struct {
	ResultPath string
	CursorPath string
}

// Driver runs the scan loop: assemble a batch from the cursor, bring up the
// tunnel, probe, fold results into the store, persist store and cursor,
// repeat until the offset ceiling is reached. Batches never overlap; the
// per-batch join is the system's only backpressure.
type Driver struct {
	cfg    *models.ScanConfig
	enum   *Enumerator
	store  *ResultStore
	cursor *Cursor
	tunnel TunnelRunner
	prober BatchProber

	progress *Progress
	opts     DriverOptions
	runID    string
	logger   logger.Logger
}

func NewDriver(
	cfg *models.ScanConfig,
	enum *Enumerator,
	store *ResultStore,
	cursor *Cursor,
	tunnel TunnelRunner,
	prober BatchProber,
	progress *Progress,
	opts DriverOptions,
	log logger.Logger,
) *Driver {
	return &Driver{
		cfg:      cfg,
		enum:     enum,
		store:    store,
		cursor:   cursor,
		tunnel:   tunnel,
		prober:   prober,
		progress: progress,
		opts:     opts,
		runID:    uuid.NewString(),
		logger:   log,
	}
}

// Run drives the scan to completion or to the first fatal error. Per-probe
// failures are absorbed; tunnel-process and persistence failures abort.
func (d *Driver) Run(ctx context.Context) error {
	log := d.logger.With().Str("run_id", d.runID).Logger()

	for d.cursor.Offset < d.enum.MaxOffset {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan interrupted: %w", err)
		}

		plan, crossed := d.enum.NextBatch(d.cursor, d.cfg.MaxConnectionCount)

		if crossed {
			// Eligibility just changed for every range past the warm-up
			// boundary; totals no longer describe the same scan. The
			// batch in hand was assembled before the crossing, so it is
			// subtracted from the completed count.
			total := d.enum.TotalCount(d.cursor.Offset)

			completed := d.enum.CompletedCount(d.cursor) - len(plan.Addrs)
			if completed < 0 {
				completed = 0
			}

			d.progress.Rebase(total, completed)
			log.Info().Int("completed", completed).Int("total", total).Msg("enable threshold reached, progress rebased")
		}

		if len(plan.Addrs) > 0 {
			if err := d.runBatch(ctx, plan); err != nil {
				return err
			}
		}

		if err := d.cursor.Save(d.opts.CursorPath); err != nil {
			return err
		}

		d.progress.Add(len(plan.Addrs))
	}

	d.progress.Finish()
	log.Info().Int("results", d.store.Len()).Msg("scan complete")

	return nil
}

// runBatch owns one tunnel-process lifetime. The handle is released before
// returning on every path, so the next batch finds the listener ports free.
func (d *Driver) runBatch(ctx context.Context, plan BatchPlan) error {
	log := d.logger.With().Str("run_id", d.runID).Logger()

	handle, err := d.tunnel.Start(ctx, plan.Addrs)
	if err != nil {
		return fmt.Errorf("start tunnel for batch of %d: %w", len(plan.Addrs), err)
	}
	defer handle.Stop()

	records := d.prober.Run(ctx, plan.Addrs)

	success := 0

	for i, rec := range records {
		if rec == nil {
			continue
		}

		success++

		d.store.Add(plan.Addrs[i], *rec)

		log.Debug().
			Str("ip", plan.Addrs[i].String()).
			Uint64("origin_rtt", rec.OriginRTT).
			Uint64("candidate_rtt", rec.CandidateRTT).
			Msg("probe pair succeeded")

		// A warm-up success proves the range is viable.
		if plan.Offsets[i] < d.enum.EnableThreshold {
			d.enum.Ranges[plan.RangeIdxes[i]].Enabled = true
		}
	}

	if success > 0 {
		d.store.Commit()

		if err := d.store.Save(d.opts.ResultPath); err != nil {
			return err
		}
	}

	log.Info().
		Int("success", success).
		Int("batch", len(plan.Addrs)).
		Int("range_index", d.cursor.RangeIndex).
		Int("offset", d.cursor.Offset).
		Int("max_offset", d.enum.MaxOffset).
		Msg("batch complete")

	return nil
}
