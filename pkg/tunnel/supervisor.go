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

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/exec"
	"sync"

	"github.com/carverauto/edgesweep/pkg/logger"
)

// LaunchError reports a tunnel process that exited or failed before
// signaling readiness, with whatever diagnostic output it produced.
type LaunchError struct {
	Output string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("tunnel process failed before readiness: %v\noutput:\n%s", e.Err, e.Output)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Supervisor provisions one tunnel process per batch: it generates the
// batch configuration from the templates, writes it, and spawns the
// external binary.
type Supervisor struct {
	Binary     string
	ConfigPath string
	Template   *Config
	Outbound   Outbound
	ListenIP   string
	PortBase   int

	Logger logger.Logger
}

// Start writes the batch configuration and launches the process. It blocks
// until the process emits its first diagnostic byte (readiness) or exits,
// in which case the drained output is embedded in the returned error.
func (s *Supervisor) Start(ctx context.Context, addrs []netip.Addr) (*Process, error) {
	cfg := s.Template.Generate(s.Outbound, addrs, s.ListenIP, s.PortBase)

	if err := cfg.Save(s.ConfigPath); err != nil {
		return nil, err
	}

	return s.launch(ctx)
}

func (s *Supervisor) launch(ctx context.Context) (*Process, error) {
	cmd := exec.CommandContext(ctx, s.Binary, "run", "-c", s.ConfigPath)
	cmd.Stdout = io.Discard

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe tunnel stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn tunnel process %s: %w", s.Binary, err)
	}

	// Bounded liveness check: the process writes its startup diagnostics to
	// stderr, so one readable byte means it is up. An error here means it
	// exited (or closed stderr) first.
	first := make([]byte, 1)

	if _, readErr := io.ReadFull(stderr, first); readErr != nil {
		rest, _ := io.ReadAll(stderr)
		waitErr := cmd.Wait()

		s.Logger.Error().
			Err(readErr).
			Str("output", string(rest)).
			Msg("tunnel process did not reach readiness")

		if waitErr == nil {
			waitErr = readErr
		}

		return nil, &LaunchError{Output: string(rest), Err: waitErr}
	}

	// Keep the pipe drained so the process never blocks on stderr.
	go func() {
		_, _ = io.Copy(io.Discard, stderr)
	}()

	return &Process{cmd: cmd, logger: s.Logger}, nil
}

// Process exclusively owns one running tunnel process.
type Process struct {
	cmd    *exec.Cmd
	logger logger.Logger
	once   sync.Once
}

// Stop terminates the process and waits for it to exit, so the listener
// ports are free when Stop returns. It is idempotent, and cleanup-path
// failures surface only as warnings.
func (p *Process) Stop() {
	p.once.Do(func() {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn().Err(err).Msg("failed to kill tunnel process")
		}

		if err := p.cmd.Wait(); err != nil {
			// Expected after a kill; logged for visibility only.
			p.logger.Debug().Err(err).Msg("tunnel process exited")
		}
	})
}
