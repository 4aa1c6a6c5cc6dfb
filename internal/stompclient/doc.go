// Package stompclient provides a connection-lifecycle-aware façade over a raw
// STOMP protocol client.
//
// Callers publish and subscribe without tracking whether the transport is
// currently up:
//   - Subscriptions created at any time survive every reconnect and are
//     re-attached to the broker on each successful handshake
//   - Publishes issued while disconnected are queued and flushed in order
//     once the next connection is established
//   - A single replay-latest stream reports the connection state
//   - Activation and deactivation tolerate in-flight connection attempts and
//     asynchronous pre-connect hooks
//
// # Architecture
//
// The package does not speak STOMP itself. Framing, transports, heartbeats
// and version negotiation belong to a ProtocolClient (see the stompconn
// package for the go-stomp backed implementation).
//
//	Application ↔ stompclient.Client ↔ ProtocolClient ↔ STOMP broker
//
// Inside the façade:
//   - the activation controller owns the state machine and the session
//   - the subscription registry owns logical subscriptions and routing
//   - the publish queue buffers outbound messages while disconnected
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. State transitions are
// serialised; observers and message handlers are never invoked while an
// internal lock is held, so they may call back into the Client.
//
// # Usage
//
//	client, err := stompclient.New(stompconn.New(), stompclient.Config{
//	    BrokerURL:      "ws://localhost:15674/ws",
//	    ReconnectDelay: 5 * time.Second,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sub := client.Subscribe("/topic/alerts", nil)
//	sub.Listen(func(msg stompclient.Message) error {
//	    log.Printf("alert: %s", msg.Body)
//	    return nil
//	})
//
//	client.Activate()
//	client.Publish("/topic/alerts", nil, []byte("hello")) // queued until connected
//
//	defer client.Deactivate(context.Background())
package stompclient
