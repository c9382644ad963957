// Package license implements the client side of the license
// enforcement protocol: authentication, license checking, hardware
// binding, and heartbeat-driven re-validation.
//
// # Architecture Overview
//
// The package consists of four cooperating components:
//
//	- Client: stateless HTTP wrapper over the license server API
//	- Session: the ordered state machine from idle to monitoring
//	- Monitor: the heartbeat loop that re-validates a live session
//	- Runner: background execution with shell-facing event stream
//
// # Session Flow
//
// A session walks a fixed sequence, each transition driven strictly by
// the most recent protocol response:
//
//	idle → authenticating → checking_license → binding_fingerprint → monitoring
//
// Any failure lands in a terminal state (failed, expired, stopped) and
// produces exactly one Outcome. The server is the single source of
// truth for remaining license time; the client never decrements it
// locally, so clock manipulation cannot extend a license.
//
// # Heartbeats
//
// While monitoring, the agent sends a heartbeat every interval. Each
// heartbeat decrements the server-side time balance and returns the
// authoritative remaining time. The monitor is fail-closed: an
// unreachable server or an invalid answer ends the session rather than
// letting it run unmonitored.
//
// # Error Handling
//
// Every failure is classified into a Kind (transport, credential,
// protocol, unauthorized device, expired, busy) and carried by
// *LicenseError. Shells can render each kind distinctly: renew for an
// expired license, contact support for a device conflict, retry later
// for transport trouble.
package license
