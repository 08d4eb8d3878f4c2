// Package subscription multiplexes GraphQL subscriptions over the single
// realtime connection owned by connection.Manager.
//
// Subscribe registers a Pending subscription and returns its Stream at once;
// establishment (connect, sign, start, start_ack) runs in the background
// under its own timer. Inbound frames are routed by id. A subscription
// leaves the registry exactly once: on complete, error, establishment
// timeout, unsubscribe, connection teardown or Close. Removing the last
// subscription releases the idle socket.
package subscription
