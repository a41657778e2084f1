// Package session is the engine side of one program's query stream.
//
// Ownership boundary:
// - one typed method per client fact, each a blocking round trip
// - single-flight: one query in flight per session
// - poisoning once a response frame was left half read
// - session-start setup command (registerProgram)
// - per-session warning log
package session
