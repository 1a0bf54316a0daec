// Package natsbus provides a NATS transport for the device bus.
//
// Device topics use "/" separators and MQTT wildcards. NATS subjects use "."
// with "*" and ">" wildcards, so the broker translates in both directions:
//
//	devices/+/response         ->  devices.*.response
//	devices/kettle-01/command  ->  devices.kettle-01.command
//
// Handlers always see the MQTT-style topic, so the devicebus adapter parses
// NATS traffic exactly like MQTT traffic. QoS and retained flags have no NATS
// equivalent and are ignored; Publish flushes so a returned nil means the
// server accepted the message.
package natsbus
