// Package command correlates commands published to devices with the
// responses they eventually send back.
//
// The broker is fire-and-forget: a command goes out on
// devices/{id}/command and, some time later, a response carrying the same
// correlation ID may arrive on devices/{id}/response. The Correlator turns
// that into a blocking call with a deadline:
//
//	cmd, err := correlator.Send(ctx, "kettle-01", "set_power", map[string]any{"power": true}, 5*time.Second)
//	switch cmd.Status {
//	case command.StatusCompleted: // cmd.ResponseData
//	case command.StatusFailed:    // cmd.Error
//	case command.StatusTimeout:
//	}
//
// Each call waits on its own one-shot channel, so concurrent commands never
// wait on each other. Every entry moves to a terminal state exactly once;
// responses for unknown or already-resolved correlation IDs are ignored.
package command
