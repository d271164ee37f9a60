// Package mqtt provides the broker connection used to carry module frames.
//
// A module process and its host exchange call/response frames over two
// per-instance topics (see Topics). The broker decouples the processes so
// either side can restart without the other tearing down its connection.
//
//	Host ↔ MQTT Broker ↔ Module process
//
// The package manages:
//   - Connection with auto-reconnect after the first successful connect
//   - Ordered, panic-safe handler dispatch
//   - Route restoration across reconnects, with OnResume hooks for lost frames
//   - Retained online/offline status with Last Will and Testament
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.ToModule("generic-1"), 1,
//	    func(topic string, payload []byte) error {
//	        return peer.Receive(payload)
//	    })
package mqtt
