// Package simulator emulates devices on the device bus.
//
// Each simulated device listens on devices/{id}/command and
// devices/{id}/status/request, applies the wire commands Link sends
// (set_power, set_range, set_mode, set_toggle), answers with a response
// envelope and pushes the new state on its feedback topic.
//
// It runs against any devicebus.Broker: the in-process memory broker for the
// "memory" transport and tests, or a real MQTT/NATS broker from cmd/devicesim.
//
//	sim, _ := simulator.New(simulator.Options{Broker: b, Devices: simulator.FromCatalog(cat)})
//	sim.Start(ctx)
//	defer sim.Stop()
package simulator
