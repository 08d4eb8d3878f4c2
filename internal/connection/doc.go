// Package connection manages the realtime websocket to the GraphQL endpoint.
//
// A Manager owns at most one live Session. Concurrent Connect calls share a
// single handshake. Once acknowledged, the session reads frames on one
// goroutine, resets its keep-alive watchdog on every "ka" frame and hands
// every other frame to the registered Handler in arrival order. A lapsed
// watchdog, socket failure or explicit Close tears the session down and
// reports the cause to the Handler exactly once. There is no reconnect.
package connection
