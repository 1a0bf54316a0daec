package api

import (
	"context"
	"encoding/json"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-link/internal/capability"
	"github.com/nerrad567/gray-logic-link/internal/catalog"
)

// maxConcurrentDevices bounds the per-request fan-out of action calls.
const maxConcurrentDevices = 16

// platformResponse is the envelope every /v1.0 reply uses.
type platformResponse struct {
	RequestID string `json:"request_id"`
	Payload   any    `json:"payload,omitempty"`
}

type devicesPayload struct {
	UserID  string           `json:"user_id"`
	Devices []catalog.Device `json:"devices"`
}

// DeviceRef names a device in query and action requests.
type DeviceRef struct {
	ID         string         `json:"id"`
	CustomData map[string]any `json:"custom_data,omitempty"`
}

// QueryRequest is the body of POST /v1.0/user/devices/query.
type QueryRequest struct {
	Devices []DeviceRef `json:"devices"`
}

// CapabilityState is one capability value in query and action bodies.
type CapabilityState struct {
	Type  string     `json:"type"`
	State StateValue `json:"state"`
}

// StateValue carries a capability value or, in action replies, its result.
type StateValue struct {
	Instance     string        `json:"instance"`
	Value        any           `json:"value,omitempty"`
	ActionResult *ActionResult `json:"action_result,omitempty"`
}

// ActionResult is the platform-facing outcome of one capability change.
type ActionResult struct {
	Status       capability.ResultStatus `json:"status"`
	ErrorCode    string                  `json:"error_code,omitempty"`
	ErrorMessage string                  `json:"error_message,omitempty"`
}

// DeviceState is one device in a query or action reply.
type DeviceState struct {
	ID           string            `json:"id"`
	Capabilities []CapabilityState `json:"capabilities,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	ActionResult *ActionResult     `json:"action_result,omitempty"`
}

// ActionRequest is the body of POST /v1.0/user/devices/action.
type ActionRequest struct {
	Payload struct {
		Devices []ActionDevice `json:"devices"`
	} `json:"payload"`
}

// ActionDevice lists the capability changes requested for one device.
type ActionDevice struct {
	ID           string            `json:"id"`
	CustomData   map[string]any    `json:"custom_data,omitempty"`
	Capabilities []CapabilityState `json:"capabilities"`
}

// handlePlatformAlive answers the platform's endpoint check.
func (s *Server) handlePlatformAlive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleUnlink acknowledges an account unlink. Token revocation happens in
// front of this server.
func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("user unlinked", "request_id", requestID(r))
	writeJSON(w, http.StatusOK, platformResponse{RequestID: requestID(r)})
}

// handleUserDevices returns the device catalog.
func (s *Server) handleUserDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, platformResponse{
		RequestID: requestID(r),
		Payload: devicesPayload{
			UserID:  s.catalog.UserID(),
			Devices: s.catalog.List(),
		},
	})
}

// handleDevicesQuery answers from the status cache only. It never waits on a
// device.
func (s *Server) handleDevicesQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	devices := make([]DeviceState, 0, len(req.Devices))
	for _, ref := range req.Devices {
		devices = append(devices, s.queryDevice(ref.ID))
	}

	writeJSON(w, http.StatusOK, platformResponse{
		RequestID: requestID(r),
		Payload:   map[string]any{"devices": devices},
	})
}

func (s *Server) queryDevice(id string) DeviceState {
	dev, ok := s.catalog.Get(id)
	if !ok {
		return DeviceState{
			ID:           id,
			ErrorCode:    capability.ErrorCodeDeviceNotFound,
			ErrorMessage: "unknown device",
		}
	}

	snap, ok := s.engine.GetCachedStatus(id)
	if !ok {
		return DeviceState{
			ID:           id,
			ErrorCode:    capability.ErrorCodeDeviceUnreachable,
			ErrorMessage: "no status reported yet",
		}
	}

	out := DeviceState{ID: id, Capabilities: []CapabilityState{}}
	for _, c := range dev.Capabilities {
		if !c.Retrievable {
			continue
		}
		v, ok := snap.State[c.StateKey()]
		if !ok {
			continue
		}
		out.Capabilities = append(out.Capabilities, CapabilityState{
			Type:  c.Short().Qualified(),
			State: StateValue{Instance: c.Instance(), Value: v},
		})
	}
	return out
}

// handleDevicesAction invokes every requested capability. Devices run
// concurrently; capabilities of one device run in request order.
func (s *Server) handleDevicesAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	devices := make([]DeviceState, len(req.Payload.Devices))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(maxConcurrentDevices)
	for i, ad := range req.Payload.Devices {
		g.Go(func() error {
			devices[i] = s.actOnDevice(ctx, ad)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	writeJSON(w, http.StatusOK, platformResponse{
		RequestID: requestID(r),
		Payload:   map[string]any{"devices": devices},
	})
}

func (s *Server) actOnDevice(ctx context.Context, ad ActionDevice) DeviceState {
	dev, ok := s.catalog.Get(ad.ID)
	if !ok {
		return DeviceState{
			ID: ad.ID,
			ActionResult: &ActionResult{
				Status:       capability.StatusError,
				ErrorCode:    capability.ErrorCodeDeviceNotFound,
				ErrorMessage: "unknown device",
			},
		}
	}

	out := DeviceState{ID: ad.ID, Capabilities: make([]CapabilityState, 0, len(ad.Capabilities))}
	for _, cs := range ad.Capabilities {
		result := s.invoke(ctx, dev, cs)
		out.Capabilities = append(out.Capabilities, CapabilityState{
			Type: cs.Type,
			State: StateValue{
				Instance: cs.State.Instance,
				ActionResult: &ActionResult{
					Status:       result.Status,
					ErrorCode:    result.ErrorCode,
					ErrorMessage: result.ErrorMessage,
				},
			},
		})
	}
	return out
}

func (s *Server) invoke(ctx context.Context, dev catalog.Device, cs CapabilityState) capability.Result {
	if _, ok := dev.Capability(cs.Type, cs.State.Instance); !ok {
		return capability.Result{
			Status:       capability.StatusError,
			ErrorCode:    capability.ErrorCodeInvalidAction,
			ErrorMessage: "capability not offered by device",
		}
	}

	result, err := s.engine.InvokeCapability(ctx, dev.ID, cs.Type, capability.State{
		Instance: cs.State.Instance,
		Value:    cs.State.Value,
	})
	if err != nil {
		s.logger.Warn("capability invocation failed",
			"device_id", dev.ID,
			"capability", cs.Type,
			"error", err,
		)
		return capability.ErrorResult(err)
	}
	return result
}
