// Package influxdb records module output as time series for the development
// host.
//
// It wraps the official influxdb-client-go v2 library. The devhost writes
// every variable value and feedback value it receives, plus status changes,
// so a module author can see how values evolved while exercising a module.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.DevHost.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history is optional
//	}
//	defer client.Close()
//
//	client.WriteVariableValue("instance-001", "counter", "count", 5)
//	samples, err := client.VariableHistory(ctx, "instance-001", "count", time.Now().Add(-time.Hour))
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; their errors reach
// the SetOnError callback.
package influxdb
