package main

import "context"

// Adapter bridges one external medium (a game server console or the chat
// channel) to the relay bus in both directions.
type Adapter interface {
	// Name is the endpoint identity stamped on events this adapter emits.
	// Events carrying the same Source are never sent back to it.
	Name() string
	// Open acquires the medium. It is called before Listen and Send.
	Open(ctx context.Context) error
	// Listen reads the medium until it closes or ctx is done, passing every
	// event it recognizes to emit.
	Listen(ctx context.Context, emit func(Event)) error
	// Send renders one event from another endpoint onto the medium.
	Send(ctx context.Context, event Event) error
	Close() error
}
