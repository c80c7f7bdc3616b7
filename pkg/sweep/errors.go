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

import "errors"

var (
	// Result file errors. A persisted result file is rejected wholesale on
	// the first bad line; partial state cannot be trusted for resumption.
	ErrMalformedResultLine = errors.New("malformed result line")
	ErrDuplicateResultAddr = errors.New("duplicate address in result file")

	// Cursor errors.
	ErrCursorRangeIndex = errors.New("persisted cursor range index out of bounds")
	ErrCursorOffset     = errors.New("persisted cursor offset out of bounds")

	// Probe errors.
	ErrCDNURLScheme = errors.New("cdn_url scheme must be http or https")
	ErrCDNURLHost   = errors.New("cdn_url must have a domain host, not an IP")

	// Address source errors.
	ErrNoRanges = errors.New("no address ranges found in source")
)
