package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-link/internal/command"
)

// Measurement names written by the link.
const (
	MeasurementDeviceStatus   = "device_status"
	MeasurementCommandResults = "command_results"
)

// WriteDeviceStatus writes the numeric and boolean fields of a status push
// as one device_status point. Booleans become 1 or 0; strings and nested
// values are skipped. A push with no plottable fields writes nothing.
func (c *Client) WriteDeviceStatus(deviceID string, state map[string]any) {
	if !c.IsConnected() {
		return
	}

	fields := numericFields(state)
	if len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementDeviceStatus,
		map[string]string{"device_id": deviceID},
		fields,
		time.Now(),
	))
}

// Observe is a status.Observer writing every push. It never fails; write
// errors surface asynchronously through SetOnError.
func (c *Client) Observe(deviceID string, state map[string]any) error {
	c.WriteDeviceStatus(deviceID, state)
	return nil
}

// WriteCommandResult writes one point per resolved command, tagged by
// device, command type and terminal status.
func (c *Client) WriteCommandResult(cmd command.Command) {
	if !c.IsConnected() {
		return
	}

	ts := cmd.ResolvedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementCommandResults,
		map[string]string{
			"device_id": cmd.DeviceID,
			"command":   cmd.CommandType,
			"status":    string(cmd.Status),
		},
		map[string]any{
			"latency_ms": float64(cmd.Latency().Microseconds()) / 1000,
		},
		ts,
	))
}

func numericFields(state map[string]any) map[string]any {
	fields := make(map[string]any, len(state))
	for key, val := range state {
		switch v := val.(type) {
		case float64:
			fields[key] = v
		case float32:
			fields[key] = float64(v)
		case int:
			fields[key] = float64(v)
		case int64:
			fields[key] = float64(v)
		case bool:
			if v {
				fields[key] = 1.0
			} else {
				fields[key] = 0.0
			}
		}
	}
	return fields
}
