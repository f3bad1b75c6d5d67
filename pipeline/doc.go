// Package pipeline composes the payload transformations applied to messages
// between the broker API and the relay wire format. Emission runs encryption
// then base64 encoding; reception runs base64 decoding then decryption. The
// two directions are independent pipelines so a deployment can reorder or
// omit stages without touching the other path.
package pipeline
