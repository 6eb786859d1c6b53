package plugin

import (
	"context"
	"fmt"
)

// ErasedHandler is Handler with its four associated types erased to `any`.
// The registry stores ErasedHandler values because a single process-wide
// map cannot hold Handler[I,P,A,O] for varying I/P/A/O directly; the Task
// coordinator only ever touches plugins through this erased surface, and
// Input/Output cross process boundaries as codec-encoded bytes anyway, so
// the erasure costs nothing beyond a type assertion at each boundary.
type ErasedHandler interface {
	ID() string
	Prepare(ctx context.Context, input any) (prepared any, err error)
	Process(ctx context.Context, records []ErasedPeerPrepareRecord) (aggregated any, err error)
	Validate(ctx context.Context, aggregated any, myPrepared any) (newAggregated any, err error)
	Execute(ctx context.Context, aggregated any) (output any, err error)
}

// ErasedPeerPrepareRecord is PeerPrepareRecord with Prepared erased.
type ErasedPeerPrepareRecord struct {
	PeerPublicKey  string
	Prepared       any
	EncodedDataHex string
	SignatureHex   *string
}

// adapter wraps a concrete Handler[I,P,A,O] to satisfy ErasedHandler,
// performing the type assertions at each boundary crossing.
type adapter[Input, Prepared, Aggregated, Output any] struct {
	handler Handler[Input, Prepared, Aggregated, Output]
}

// Adapt erases a concrete Handler's associated types so it can be stored
// in the registry alongside plugins with different Input/Prepared/
// Aggregated/Output types.
func Adapt[Input, Prepared, Aggregated, Output any](h Handler[Input, Prepared, Aggregated, Output]) ErasedHandler {
	return adapter[Input, Prepared, Aggregated, Output]{handler: h}
}

func (a adapter[Input, Prepared, Aggregated, Output]) ID() string { return a.handler.ID() }

func (a adapter[Input, Prepared, Aggregated, Output]) Prepare(ctx context.Context, input any) (any, error) {
	typed, ok := input.(Input)
	if !ok {
		return nil, fmt.Errorf("plugin %s: prepare: input has wrong type %T", a.handler.ID(), input)
	}
	prepared, err := a.handler.Prepare(ctx, typed)
	return prepared, err
}

func (a adapter[Input, Prepared, Aggregated, Output]) Process(ctx context.Context, records []ErasedPeerPrepareRecord) (any, error) {
	typed := make([]PeerPrepareRecord[Prepared], 0, len(records))
	for _, r := range records {
		p, ok := r.Prepared.(Prepared)
		if !ok {
			return nil, fmt.Errorf("plugin %s: process: prepared record from %s has wrong type %T", a.handler.ID(), r.PeerPublicKey, r.Prepared)
		}
		typed = append(typed, PeerPrepareRecord[Prepared]{
			PeerPublicKey:  r.PeerPublicKey,
			Prepared:       p,
			EncodedDataHex: r.EncodedDataHex,
			SignatureHex:   r.SignatureHex,
		})
	}
	aggregated, err := a.handler.Process(ctx, typed)
	return aggregated, err
}

func (a adapter[Input, Prepared, Aggregated, Output]) Validate(ctx context.Context, aggregated any, myPrepared any) (any, error) {
	typedAgg, ok := aggregated.(Aggregated)
	if !ok {
		return nil, fmt.Errorf("plugin %s: validate: aggregated has wrong type %T", a.handler.ID(), aggregated)
	}
	typedPrepared, ok := myPrepared.(Prepared)
	if !ok {
		return nil, fmt.Errorf("plugin %s: validate: prepared has wrong type %T", a.handler.ID(), myPrepared)
	}
	newAgg, err := a.handler.Validate(ctx, typedAgg, typedPrepared)
	return newAgg, err
}

func (a adapter[Input, Prepared, Aggregated, Output]) Execute(ctx context.Context, aggregated any) (any, error) {
	typed, ok := aggregated.(Aggregated)
	if !ok {
		return nil, fmt.Errorf("plugin %s: execute: aggregated has wrong type %T", a.handler.ID(), aggregated)
	}
	output, err := a.handler.Execute(ctx, typed)
	return output, err
}
