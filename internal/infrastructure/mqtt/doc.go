// Package mqtt provides the MQTT transport for Gray Logic Link.
//
// Client implements devicebus.Broker on top of paho.mqtt.golang:
//   - Single-attempt Connect (bounded retry lives in devicebus.Connect)
//   - Automatic reconnect with subscription restore once connected
//   - Retained presence on graylink/system/{client_id}/status, with an LWT
//     for crash detection
//   - Panic recovery around every message handler
//
// Usage:
//
//	dial := mqtt.Dialer(cfg.MQTT, logger)
//	err := engine.Connect(ctx, dial)
//
// TLS should be enabled (cfg.Broker.TLS) anywhere the broker is not on the
// local host.
package mqtt
