// Package mqtt provides the MQTT side of the stomplink bridge.
//
// This package manages:
//   - Connection to the MQTT broker with auto-reconnect
//   - Acknowledged publishing for relays and status topics
//   - Route subscriptions, one handler per filter, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Connectivity reporting: watchers, Status, and HealthCheck, which
//     gates STOMP connection attempts
//
// # Architecture
//
// stomplink relays between a STOMP broker and an MQTT bus:
//
//	STOMP broker ↔ stompclient ↔ bridge ↔ mqtt.Client ↔ MQTT broker
//
// Route topics come from configuration. The bridge's own topics live under
// stomplink/{bridge_id}/ and are built with Topics.
//
// # Security Considerations
//
//   - TLS should be enabled in production (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	stop := client.WatchConnection(func(connected bool, err error) {
//	    log.Printf("bus connected=%v: %v", connected, err)
//	})
//	defer stop()
//
//	err = client.Subscribe("site/commands/#", 1, func(msg mqtt.Message) error {
//	    if msg.Retained {
//	        return nil
//	    }
//	    link.Publish("/queue/commands", nil, msg.Payload)
//	    return nil
//	})
package mqtt
