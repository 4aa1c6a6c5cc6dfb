// Package stompconn is the go-stomp backed protocol client for stompclient.
//
// This package manages:
//   - Dialling the broker over TCP, TLS or websocket
//   - The STOMP handshake (version negotiation, credentials, heart-beats)
//   - Translating go-stomp subscriptions into callbacks
//   - Detecting transport loss and reporting it as a session event
//
// # Architecture
//
// stompclient owns the connection lifecycle; this package owns the wire.
// Every stompclient connection attempt produces one Session here.
//
//	stompclient.Client ↔ stompconn.Client ↔ go-stomp ↔ transport ↔ broker
//
// Supported broker URLs:
//   - tcp://host:port or host:port: plain TCP
//   - ssl://host:port or tls://host:port: TLS 1.2+
//   - ws://host:port/path or wss://host:port/path: STOMP over websocket
//     with the v10.stomp, v11.stomp and v12.stomp subprotocols
//
// # Limitations
//
// go-stomp cannot attach custom headers to the DISCONNECT frame. Configured
// disconnect headers are logged at debug level and otherwise ignored.
//
// # Usage
//
//	proto := stompconn.New()
//	proto.SetLogger(log)
//
//	client, err := stompclient.New(proto, stompclient.Config{
//	    BrokerURL:         "ws://rabbitmq:15674/ws",
//	    ConnectHeaders:    stompclient.Headers{"login": "guest", "passcode": "guest"},
//	    HeartbeatOutgoing: 10 * time.Second,
//	    HeartbeatIncoming: 10 * time.Second,
//	})
package stompconn
