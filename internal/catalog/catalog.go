// Package catalog loads the devices Link exposes to the voice platform.
//
// The catalog is a YAML file listing each device with its platform type,
// room, device info and capabilities. It is read once at startup; the engine
// never consults it, only the HTTP adapter does.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-link/internal/capability"
	"github.com/nerrad567/gray-logic-link/internal/devicebus"
)

// ErrDeviceNotFound is returned when a device ID is not in the catalog.
var ErrDeviceNotFound = errors.New("catalog: device not found")

// Range bounds a range capability.
type Range struct {
	Min       float64 `yaml:"min" json:"min"`
	Max       float64 `yaml:"max" json:"max"`
	Precision float64 `yaml:"precision,omitempty" json:"precision,omitempty"`
}

// Parameters are the platform capability parameters.
type Parameters struct {
	Split        *bool          `yaml:"split,omitempty" json:"split,omitempty"`
	Instance     string         `yaml:"instance,omitempty" json:"instance,omitempty"`
	Name         string         `yaml:"name,omitempty" json:"name,omitempty"`
	Unit         string         `yaml:"unit,omitempty" json:"unit,omitempty"`
	RandomAccess *bool          `yaml:"random_access,omitempty" json:"random_access,omitempty"`
	Range        *Range         `yaml:"range,omitempty" json:"range,omitempty"`
	Modes        []ModeValue    `yaml:"modes,omitempty" json:"modes,omitempty"`
	Extra        map[string]any `yaml:"extra,omitempty" json:"-"`
}

// ModeValue is one selectable mode.
type ModeValue struct {
	Value string `yaml:"value" json:"value"`
}

// Capability is one capability a device offers.
type Capability struct {
	Type        string     `yaml:"type" json:"type"`
	Retrievable bool       `yaml:"retrievable" json:"retrievable"`
	Reportable  bool       `yaml:"reportable" json:"reportable"`
	Parameters  Parameters `yaml:"parameters" json:"parameters"`

	// StateKeyOverride names the status field holding this capability's
	// current value. Empty uses StateKey's default.
	StateKeyOverride string `yaml:"state_key,omitempty" json:"-"`
}

// Short returns the capability type without the platform prefix.
func (c Capability) Short() capability.Type {
	return capability.Type(strings.TrimPrefix(c.Type, capability.Prefix))
}

// Instance returns the instance the platform uses for this capability.
// on_off is always "on".
func (c Capability) Instance() string {
	if c.Short() == capability.OnOff {
		return "on"
	}
	return c.Parameters.Instance
}

// StateKey returns the status field carrying this capability's value:
// "power" for on_off, the instance name otherwise.
func (c Capability) StateKey() string {
	if c.StateKeyOverride != "" {
		return c.StateKeyOverride
	}
	if c.Short() == capability.OnOff {
		return "power"
	}
	return c.Parameters.Instance
}

// DeviceInfo describes the hardware.
type DeviceInfo struct {
	Manufacturer string `yaml:"manufacturer" json:"manufacturer"`
	Model        string `yaml:"model" json:"model"`
	HWVersion    string `yaml:"hw_version,omitempty" json:"hw_version,omitempty"`
	SWVersion    string `yaml:"sw_version,omitempty" json:"sw_version,omitempty"`
}

// Device is one catalog entry.
type Device struct {
	ID           string       `yaml:"id" json:"id"`
	Name         string       `yaml:"name" json:"name"`
	Description  string       `yaml:"description,omitempty" json:"description,omitempty"`
	Room         string       `yaml:"room,omitempty" json:"room,omitempty"`
	Type         string       `yaml:"type" json:"type"`
	Capabilities []Capability `yaml:"capabilities" json:"capabilities"`
	DeviceInfo   *DeviceInfo  `yaml:"device_info,omitempty" json:"device_info,omitempty"`
}

// Capability finds the device capability matching capType (short or
// prefixed) and, for non on_off types, instance.
func (d Device) Capability(capType, instance string) (Capability, bool) {
	want := capability.Type(strings.TrimPrefix(capType, capability.Prefix))
	for _, c := range d.Capabilities {
		if c.Short() != want {
			continue
		}
		if want == capability.OnOff || instance == "" || c.Parameters.Instance == instance {
			return c, true
		}
	}
	return Capability{}, false
}

// file is the on-disk layout.
type file struct {
	UserID  string   `yaml:"user_id"`
	Devices []Device `yaml:"devices"`
}

// Catalog is an immutable, validated device list.
//
// Thread Safety:
//   - Read-only after Load; safe for concurrent use.
type Catalog struct {
	userID  string
	devices []Device
	byID    map[string]int
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

// Parse validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return New(f.UserID, f.Devices)
}

// New validates devices and builds a catalog. Every problem is reported.
func New(userID string, devices []Device) (*Catalog, error) {
	c := &Catalog{
		userID:  userID,
		devices: make([]Device, 0, len(devices)),
		byID:    make(map[string]int, len(devices)),
	}

	var errs []string
	for i, d := range devices {
		if err := devicebus.ValidateDeviceID(d.ID); err != nil {
			errs = append(errs, fmt.Sprintf("devices[%d]: %v", i, err))
			continue
		}
		if _, dup := c.byID[d.ID]; dup {
			errs = append(errs, fmt.Sprintf("devices[%d]: duplicate id %q", i, d.ID))
			continue
		}
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("device %q: name is required", d.ID))
		}
		if d.Type == "" {
			errs = append(errs, fmt.Sprintf("device %q: type is required", d.ID))
		}
		errs = append(errs, validateCapabilities(d)...)

		c.byID[d.ID] = len(c.devices)
		c.devices = append(c.devices, d)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid catalog:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return c, nil
}

func validateCapabilities(d Device) []string {
	var errs []string
	seen := make(map[string]bool)
	for j, c := range d.Capabilities {
		if _, ok := capability.Lookup(c.Type); !ok {
			errs = append(errs, fmt.Sprintf("device %q capability[%d]: unsupported type %q", d.ID, j, c.Type))
			continue
		}
		if c.Short() != capability.OnOff && c.Parameters.Instance == "" {
			errs = append(errs, fmt.Sprintf("device %q capability[%d]: %s requires parameters.instance", d.ID, j, c.Short()))
		}
		if r := c.Parameters.Range; r != nil && r.Min > r.Max {
			errs = append(errs, fmt.Sprintf("device %q capability[%d]: range min > max", d.ID, j))
		}
		key := string(c.Short()) + "/" + c.Instance()
		if seen[key] {
			errs = append(errs, fmt.Sprintf("device %q: duplicate capability %s", d.ID, key))
		}
		seen[key] = true
	}
	return errs
}

// UserID returns the platform user the catalog belongs to.
func (c *Catalog) UserID() string {
	return c.userID
}

// Get returns a device by ID.
func (c *Catalog) Get(id string) (Device, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Device{}, false
	}
	return c.devices[i], true
}

// List returns every device in file order.
func (c *Catalog) List() []Device {
	out := make([]Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// IDs returns the sorted device IDs.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Supports reports whether the device offers the capability type.
func (c *Catalog) Supports(deviceID, capType string) bool {
	d, ok := c.Get(deviceID)
	if !ok {
		return false
	}
	_, ok = d.Capability(capType, "")
	return ok
}

// Len returns the number of devices.
func (c *Catalog) Len() int {
	return len(c.devices)
}
