package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const kettleYAML = `
user_id: "household-1"
devices:
  - id: kettle-01
    name: Kettle
    description: Smart kettle in the kitchen
    room: Kitchen
    type: devices.types.cooking.kettle
    capabilities:
      - type: devices.capabilities.on_off
        retrievable: true
        reportable: true
        parameters:
          split: false
      - type: devices.capabilities.range
        retrievable: true
        reportable: true
        parameters:
          instance: temperature
          unit: unit.temperature.celsius
          random_access: true
          range: {min: 40, max: 100, precision: 5}
    device_info:
      manufacturer: Gray Logic
      model: DIY-Kettle-v1
  - id: curtain-01
    name: Curtain
    type: devices.types.openable.curtain
    capabilities:
      - type: on_off
        retrievable: true
        parameters: {}
        state_key: open
      - type: devices.capabilities.mode
        parameters:
          instance: program
          modes: [{value: auto}, {value: manual}]
`

func TestParse_Valid(t *testing.T) {
	c, err := Parse([]byte(kettleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if c.Len() != 2 || c.UserID() != "household-1" {
		t.Fatalf("Len() = %d, UserID() = %q", c.Len(), c.UserID())
	}

	kettle, ok := c.Get("kettle-01")
	if !ok {
		t.Fatal("Get(kettle-01) not found")
	}
	if kettle.DeviceInfo == nil || kettle.DeviceInfo.Model != "DIY-Kettle-v1" {
		t.Errorf("DeviceInfo = %+v", kettle.DeviceInfo)
	}

	rng, ok := kettle.Capability("devices.capabilities.range", "temperature")
	if !ok {
		t.Fatal("range/temperature capability not found")
	}
	if rng.Parameters.Range == nil || rng.Parameters.Range.Max != 100 {
		t.Errorf("Range = %+v", rng.Parameters.Range)
	}
	if rng.StateKey() != "temperature" || rng.Instance() != "temperature" {
		t.Errorf("StateKey() = %q, Instance() = %q", rng.StateKey(), rng.Instance())
	}

	if ids := c.IDs(); len(ids) != 2 || ids[0] != "curtain-01" {
		t.Errorf("IDs() = %v", ids)
	}
	if list := c.List(); list[0].ID != "kettle-01" {
		t.Errorf("List() not in file order: %v", list[0].ID)
	}
}

func TestCapability_StateKey(t *testing.T) {
	c, err := Parse([]byte(kettleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	kettle, _ := c.Get("kettle-01")
	onOff, _ := kettle.Capability("on_off", "")
	if onOff.StateKey() != "power" || onOff.Instance() != "on" {
		t.Errorf("kettle on_off StateKey() = %q, Instance() = %q", onOff.StateKey(), onOff.Instance())
	}

	curtain, _ := c.Get("curtain-01")
	override, _ := curtain.Capability("devices.capabilities.on_off", "")
	if override.StateKey() != "open" {
		t.Errorf("curtain on_off StateKey() = %q, want override open", override.StateKey())
	}
}

func TestCatalog_Supports(t *testing.T) {
	c, err := Parse([]byte(kettleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		device, capType string
		want            bool
	}{
		{"kettle-01", "devices.capabilities.on_off", true},
		{"kettle-01", "range", true},
		{"kettle-01", "devices.capabilities.mode", false},
		{"curtain-01", "mode", true},
		{"ghost", "on_off", false},
	}
	for _, tt := range tests {
		if got := c.Supports(tt.device, tt.capType); got != tt.want {
			t.Errorf("Supports(%q, %q) = %v, want %v", tt.device, tt.capType, got, tt.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad yaml", "devices: [", "parsing catalog"},
		{"bad id", "devices:\n  - {id: 'a/b', name: x, type: t}", "reserved character"},
		{"duplicate id", "devices:\n  - {id: a, name: x, type: t}\n  - {id: a, name: y, type: t}", "duplicate id"},
		{"missing name", "devices:\n  - {id: a, type: t}", "name is required"},
		{"unsupported capability", "devices:\n  - {id: a, name: x, type: t, capabilities: [{type: devices.capabilities.color_setting}]}", "unsupported type"},
		{"range without instance", "devices:\n  - {id: a, name: x, type: t, capabilities: [{type: range}]}", "requires parameters.instance"},
		{"duplicate capability", "devices:\n  - {id: a, name: x, type: t, capabilities: [{type: on_off}, {type: on_off}]}", "duplicate capability"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	if err := os.WriteFile(path, []byte(kettleYAML), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !c.Has("curtain-01") || c.Has("ghost") {
		t.Error("Has() mismatch")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}
