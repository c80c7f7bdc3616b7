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

// Package tunnel generates per-batch configurations for the external
// tunneling process and supervises its lifetime.
package tunnel

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
)

// Config is a tunnel-process configuration document. The sections the
// generator appends to are typed; every other field round-trips untouched
// so operator-supplied template fragments survive regeneration.
type Config struct {
	Inbounds  []map[string]any
	Outbounds []map[string]any
	Route     Route

	extra map[string]json.RawMessage
}

// Route holds the routing rules binding each generated inbound to its
// outbound, plus passthrough fields.
type Route struct {
	Rules []map[string]any

	extra map[string]json.RawMessage
}

// Outbound is the operator-supplied outbound fragment cloned per candidate.
type Outbound map[string]any

func (c *Config) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if in, ok := raw["inbounds"]; ok {
		if err := json.Unmarshal(in, &c.Inbounds); err != nil {
			return fmt.Errorf("inbounds: %w", err)
		}

		delete(raw, "inbounds")
	}

	if out, ok := raw["outbounds"]; ok {
		if err := json.Unmarshal(out, &c.Outbounds); err != nil {
			return fmt.Errorf("outbounds: %w", err)
		}

		delete(raw, "outbounds")
	}

	if route, ok := raw["route"]; ok {
		if err := json.Unmarshal(route, &c.Route); err != nil {
			return fmt.Errorf("route: %w", err)
		}

		delete(raw, "route")
	}

	c.extra = raw

	return nil
}

func (c *Config) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(c.extra)+3)

	for k, v := range c.extra {
		doc[k] = v
	}

	doc["inbounds"] = c.Inbounds
	doc["outbounds"] = c.Outbounds
	doc["route"] = &c.Route

	return json.Marshal(doc)
}

func (r *Route) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if rules, ok := raw["rules"]; ok {
		if err := json.Unmarshal(rules, &r.Rules); err != nil {
			return fmt.Errorf("rules: %w", err)
		}

		delete(raw, "rules")
	}

	r.extra = raw

	return nil
}

func (r *Route) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.extra)+1)

	for k, v := range r.extra {
		doc[k] = v
	}

	doc["rules"] = r.Rules

	return json.Marshal(doc)
}

// clone copies the document deeply enough for Generate to append without
// mutating the template. Entry maps are shared; the generator only ever
// appends new entries.
func (c *Config) clone() *Config {
	out := &Config{
		Inbounds:  append([]map[string]any(nil), c.Inbounds...),
		Outbounds: append([]map[string]any(nil), c.Outbounds...),
		Route: Route{
			Rules: append([]map[string]any(nil), c.Route.Rules...),
			extra: c.Route.extra,
		},
		extra: c.extra,
	}

	return out
}

// Generate merges the template with one listener/outbound/rule triple per
// candidate: a SOCKS inbound `inbound-{i}` bound at portBase+i, a clone of
// the outbound fragment tagged `outbound-{i}` targeting the candidate, and
// a routing rule binding the two.
func (c *Config) Generate(outbound Outbound, addrs []netip.Addr, listenIP string, portBase int) *Config {
	out := c.clone()

	for i, addr := range addrs {
		inboundTag := fmt.Sprintf("inbound-%d", i)
		outboundTag := fmt.Sprintf("outbound-%d", i)

		out.Inbounds = append(out.Inbounds, map[string]any{
			"type":          "socks",
			"tag":           inboundTag,
			"listen":        listenIP,
			"listen_port":   portBase + i,
			"tcp_fast_open": true,
			"users":         []any{},
		})

		ob := make(Outbound, len(outbound)+2)
		for k, v := range outbound {
			ob[k] = v
		}

		ob["tag"] = outboundTag
		ob["server"] = addr.String()

		out.Outbounds = append(out.Outbounds, ob)

		out.Route.Rules = append(out.Route.Rules, map[string]any{
			"inbound":  []any{inboundTag},
			"outbound": outboundTag,
		})
	}

	return out
}

// LoadConfig reads a tunnel configuration template.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tunnel template %s: %w", path, err)
	}

	var c Config

	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse tunnel template %s: %w", path, err)
	}

	return &c, nil
}

// LoadOutbound reads the outbound-profile template fragment.
func LoadOutbound(path string) (Outbound, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read outbound template %s: %w", path, err)
	}

	var o Outbound

	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse outbound template %s: %w", path, err)
	}

	return o, nil
}

// Save writes the generated configuration for the external process.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tunnel config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write tunnel config %s: %w", path, err)
	}

	return nil
}
