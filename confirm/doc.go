// Package confirm implements human-in-the-loop approval of mutating tool
// calls.
//
// A backend answers an unconfirmed mutating call with pending_confirmation.
// The Coordinator stores the call under an unguessable id and hands the id
// to the client. Resolving the id either cancels the action or re-invokes it
// with the confirmed flag. The lifecycle is
//
//	none -> pending -> confirmed | cancelled | expired
//
// Records are consumed with an atomic take, so an id executes at most once
// even when several gateway instances race. A tombstone outlives each record
// so a late resolution reports CONFIRMATION_EXPIRED rather than NOT_FOUND.
package confirm
