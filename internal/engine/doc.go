// Package engine is the decompiler side of a client stream.
//
// Ownership boundary:
// - the idle command loop (registerProgram, deregisterProgram, describeAddress, getWarnings)
// - one query session per registered program, sharing the host's stream
// - outbound alignment exceptions and the emergency fault frame
package engine
