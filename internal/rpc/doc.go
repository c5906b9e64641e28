// Package rpc carries method calls across an isolation boundary as
// serializable envelopes.
//
// A Client assigns every request an id and keeps a correlation table of
// outstanding calls. Function arguments cannot cross the boundary, so
// callbacks are registered in a callback table under generated ids and only
// the ids travel with the request; the Server turns them back into functions
// that emit callback envelopes. Cancelling a call's context sends a cancel
// envelope for the request.
//
// The package is transport agnostic: Pipe connects two ends in-process and
// NATSTransport connects them over a NATS bus.
package rpc
