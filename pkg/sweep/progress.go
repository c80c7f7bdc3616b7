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

import "github.com/cheggaaa/pb/v3"

const progressTemplate = `{{counters . }} {{bar . "[" "#" ">" "-" "]"}} {{percent . }} {{etime . }}`

// Progress is a nil-safe wrapper around a terminal progress bar. A nil
// *Progress is valid and does nothing, which keeps the driver quiet in
// tests and non-interactive runs.
type Progress struct {
	bar *pb.ProgressBar
}

func NewProgress(total, current int) *Progress {
	bar := pb.New(total)
	bar.SetTemplateString(progressTemplate)
	bar.SetCurrent(int64(current))
	bar.Start()

	return &Progress{bar: bar}
}

// Rebase replaces the total and position, used when the eligible-range set
// changes at the enable-threshold crossing.
func (p *Progress) Rebase(total, current int) {
	if p == nil {
		return
	}

	p.bar.SetTotal(int64(total))
	p.bar.SetCurrent(int64(current))
}

func (p *Progress) Add(n int) {
	if p == nil {
		return
	}

	p.bar.Add(n)
}

func (p *Progress) Finish() {
	if p == nil {
		return
	}

	p.bar.Finish()
}
