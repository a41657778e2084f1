// Package protocol owns the engine<->client wire contract shared by every codec.
//
// Ownership boundary:
// - error taxonomy and the Failure type carried across the stream
// - address/varnode value types used as query arguments
//
// Subpackages:
// - frame: burst markers, primitives, response framing, exception frames
// - document: structured markup answers
// - packed: per-instruction p-code records
// - schema: query opcode table
// - session: the query dispatcher
package protocol
