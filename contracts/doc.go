// Package contracts defines the message types exchanged between broker
// components and the JSON frames exchanged with the relay.
//
// EmitMessage and ReceiveMessage are immutable values: pipeline stages never
// mutate a message, they return a superseding copy carrying the same context.
// OutboundFrame and InboundFrame describe the wire representation; the only
// unencrypted data they carry is control metadata (routing, message id,
// analysis id).
package contracts
