// Package mqtt connects the ATCS core to the field MQTT broker.
//
// Junction controllers publish per-lane vehicle counts on
// flextraff/car_counts; the relay answers on flextraff/green_times. The
// core also keeps a retained online/offline status on
// flextraff/system/status, with a Last Will so a crash is visible to
// controllers.
//
//	Controllers <-> MQTT Broker <-> ATCS core <-> timing calculator
//
// # Security Considerations
//
//   - Use TLS (cfg.Broker.TLS) and broker credentials outside the lab
//   - Payloads are trusted only as far as the broker ACL allows, so the
//     relay validates every count message before acting on it
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetLogger(logger)
//
//	err = client.Subscribe(mqtt.Topics{}.CarCounts(), 1, handler)
package mqtt
