// Package message defines the closed set of payloads exchanged between
// marketplace agents over the bus.
//
// Every payload implements Payload and reports its Kind. Handlers switch on
// the concrete type rather than inspecting loosely typed maps, so adding a
// new message means adding a new type here and a case in the handler that
// consumes it.
package message
