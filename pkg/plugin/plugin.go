// Package plugin defines the polymorphic handler contract the Task
// coordinator drives and the type-erased registry that looks handlers up
// by id. The registry is read-only after construction: handlers are
// supplied once, up front, and never added or removed afterward.
package plugin

import "context"

// Handler is the four-method contract a plugin implements, polymorphic
// over four associated types: Input (what a caller supplies), Prepared
// (what prepare() produces, exchanged between peers), Aggregated (the
// combined artifact process()/validate() operate on), and Output (what
// execute() returns). Concrete plugin bodies (EVM forwarders, Solana
// forwarders, balance updater, account linker, megadata manager, asset
// registration) live outside this package; only this abstract contract is
// the coordinator's concern.
type Handler[Input, Prepared, Aggregated, Output any] interface {
	// ID is the plugin's unique registry key.
	ID() string

	// Prepare is pure with respect to input except for read-only external
	// queries; it must be deterministic enough that honest nodes produce
	// equivalent Prepared values for the same input.
	Prepare(ctx context.Context, input Input) (Prepared, error)

	// Process is primary-only: it combines peer preparations into a single
	// artifact, typically a signed transaction body with a signer list.
	Process(ctx context.Context, records []PeerPrepareRecord[Prepared]) (Aggregated, error)

	// Validate re-examines the aggregate against the caller's own prepare
	// and returns the aggregate with its signature appended.
	Validate(ctx context.Context, aggregated Aggregated, myPrepared Prepared) (Aggregated, error)

	// Execute is primary-only: it submits the final artifact to the
	// downstream system.
	Execute(ctx context.Context, aggregated Aggregated) (Output, error)
}

// PeerPrepareRecord pairs a peer's public key with the Prepared value it
// contributed. The primary's own entry carries EncodedDataHex ==
// PrimaryMarker and a nil SignatureHex.
type PeerPrepareRecord[Prepared any] struct {
	PeerPublicKey  string
	Prepared       Prepared
	EncodedDataHex string
	SignatureHex   *string
}

// PrimaryMarker is the EncodedDataHex value the primary's own prepare
// record carries, distinguishing it from peer-sourced records that always
// carry a real hex-encoded buffer.
const PrimaryMarker = "<PRIMARY>"
