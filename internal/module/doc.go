// Package module defines the bar module contract, the built-in module types,
// and the Registry that owns module lifetimes.
//
// A module produces a text fragment on demand and calls the notify function
// it was started with whenever that fragment may have changed. The Registry
// turns those notifications into coalesced ticks for the output loop and
// exposes modules implementing CommandHandler as command subscribers.
package module
