// Package envelope defines the response envelope exchanged between the
// gateway, its tool backends, and its clients.
//
// A Response is a tagged union with exactly one active variant: Success,
// Error, or PendingConfirmation. Consumers inspect it through Match or Fold,
// which force every variant to be handled so an error is never mistaken for
// data.
//
// Every failure that crosses a component boundary is converted to an *Error
// carrying a machine-parseable Code and, where useful, a SuggestedAction that
// an automated caller can act on.
package envelope
