// Package probes serves liveness and readiness endpoints for modkit
// processes.
//
// Readiness is built from the HealthCheck methods the infrastructure
// clients already expose (database, MQTT, InfluxDB), so a process is ready
// exactly when every connection it depends on is usable:
//
//	h := probes.NewHandler(map[string]probes.Checker{
//	    "mqtt":     mqttClient,
//	    "database": db,
//	})
//	probes.Mount(router, h) // GET /live, GET /ready
//
// Append ?full=1 to either endpoint for a per-check JSON report.
package probes
