// Package devicebus is the transport boundary between Gray Logic Link and
// the devices it controls.
//
// This package manages:
//   - The device topic contract (devices/{id}/command|response|status|feedback)
//   - Wire envelopes for commands, responses, status pushes and status requests
//   - Decoding and validation of inbound payloads into tagged messages
//   - Broker connection with bounded retries
//   - Independent receive loops per topic family
//   - An in-process broker for development and tests
//
// # Architecture
//
// Devices speak JSON over a publish/subscribe broker. Link publishes command
// envelopes and status requests; devices publish responses and unsolicited
// status/feedback pushes.
//
//	Engine → Adapter → Broker (MQTT | NATS | memory) → Devices
//
// Every inbound message is decoded exactly once, in the receive loop of its
// topic family. A payload that fails to decode or validate is logged, counted
// and dropped with ErrMalformedMessage; it never reaches the correlator or the
// status cache.
//
// # Usage
//
//	broker, err := devicebus.Connect(ctx, dial, devicebus.RetryPolicy{Attempts: 5, Delay: time.Second}, log)
//	if err != nil {
//	    return err // wraps ErrConnectionFailed
//	}
//
//	adapter, err := devicebus.NewAdapter(devicebus.Options{
//	    Broker:     broker,
//	    OnResponse: correlator.HandleResponse,
//	    OnStatus:   func(env devicebus.StatusEnvelope) { cache.Update(env.DeviceID, string(env.Family), env.State) },
//	})
//	if err := adapter.Start(ctx); err != nil {
//	    return err
//	}
//	defer adapter.Stop()
package devicebus
