// Package capability maps voice-platform capability invocations (on_off,
// range, mode, toggle) onto device wire commands and maps command outcomes
// back to DONE/ERROR results.
package capability

import (
	"fmt"
	"strings"
)

// Prefix is the voice-platform namespace for capability types.
const Prefix = "devices.capabilities."

// Type is a canonical capability type without the platform prefix.
type Type string

// Supported capability types.
const (
	OnOff  Type = "on_off"
	Range  Type = "range"
	Mode   Type = "mode"
	Toggle Type = "toggle"
)

// Qualified returns the prefixed platform form (e.g. "devices.capabilities.on_off").
func (t Type) Qualified() string {
	return Prefix + string(t)
}

// State is the requested value of one capability, as sent by the platform.
type State struct {
	Instance string `json:"instance,omitempty"`
	Value    any    `json:"value"`
}

// Wire is the device command a capability invocation becomes.
type Wire struct {
	Command    string
	Parameters map[string]any
}

// Def binds a capability type to its wire command and parameter builder.
type Def struct {
	Type    Type
	Command string
	build   func(State) (map[string]any, error)
}

// definitions is the complete translation table. Every supported type has
// exactly one entry.
var definitions = []Def{
	{Type: OnOff, Command: "set_power", build: buildPower},
	{Type: Range, Command: "set_range", build: buildRange},
	{Type: Mode, Command: "set_mode", build: buildInstance},
	{Type: Toggle, Command: "set_toggle", build: buildInstance},
}

// Supported returns every capability type in the translation table.
func Supported() []Type {
	out := make([]Type, len(definitions))
	for i, d := range definitions {
		out[i] = d.Type
	}
	return out
}

// Lookup resolves a short or prefixed capability type to its definition.
func Lookup(capType string) (Def, bool) {
	name := Type(strings.TrimPrefix(strings.TrimSpace(capType), Prefix))
	for _, d := range definitions {
		if d.Type == name {
			return d, true
		}
	}
	return Def{}, false
}

// Translate maps a capability invocation to its wire command.
//
// Returns ErrUnsupportedCapability for unknown types and ErrInvalidState when
// the state does not fit the capability.
func Translate(capType string, state State) (Wire, error) {
	def, ok := Lookup(capType)
	if !ok {
		return Wire{}, fmt.Errorf("%w: %q", ErrUnsupportedCapability, capType)
	}
	params, err := def.build(state)
	if err != nil {
		return Wire{}, fmt.Errorf("%w: %s: %w", ErrInvalidState, def.Type, err)
	}
	return Wire{Command: def.Command, Parameters: params}, nil
}

func buildPower(s State) (map[string]any, error) {
	on, ok := s.Value.(bool)
	if !ok {
		return nil, fmt.Errorf("value must be a boolean, got %T", s.Value)
	}
	return map[string]any{"power": on}, nil
}

func buildRange(s State) (map[string]any, error) {
	if s.Instance == "" {
		return nil, fmt.Errorf("instance is required")
	}
	v, ok := toFloat(s.Value)
	if !ok {
		return nil, fmt.Errorf("value must be a number, got %T", s.Value)
	}
	return map[string]any{"instance": s.Instance, "value": v}, nil
}

// buildInstance serves mode and toggle: the instance names the dimension and
// the value, when present, is passed through.
func buildInstance(s State) (map[string]any, error) {
	if s.Instance == "" {
		return nil, fmt.Errorf("instance is required")
	}
	params := map[string]any{"instance": s.Instance}
	if s.Value != nil {
		params["value"] = s.Value
	}
	return params, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
