// Package influxdb writes device telemetry to InfluxDB v2.
//
// The client is an optional status observer: every status or feedback push
// becomes a device_status point with one field per numeric or boolean state
// key. Resolved commands are written to command_results with their latency.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	engine.RegisterStatusObserver(client.Observe)
//
// Writes are non-blocking and batched per batch_size and flush_interval.
// Write failures are delivered asynchronously via SetOnError.
package influxdb
