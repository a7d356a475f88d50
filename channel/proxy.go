// Package channel implements one endpoint of a symmetric, full-duplex
// remoting session: export table, request dispatcher, invocation proxies,
// flow-controlled pipes, and the channel lifecycle
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package channel

import (
	"fmt"

	"github.com/chanlab/remoting/proto"
)

type (
	// Handle is the local stand-in for an object exported by the peer:
	// method calls become UserRequests on the handle's channel, restricted
	// to the selector set declared at export time. The token names the
	// exporting endpoint, so a handle traveling back to its origin
	// resolves into the original object.
	Handle struct {
		ch        *Channel
		token     string
		selectors []string
		oid       uint32
	}

	// Exportable values choose their own selector set when they cross the
	// wire implicitly (as a call argument or return value)
	Exportable interface {
		Invokable
		Selectors() []string
	}
)

func newHandle(ch *Channel, token string, oid uint32, selectors []string) *Handle {
	return &Handle{ch: ch, token: token, oid: oid, selectors: selectors}
}

func (h *Handle) OID() uint32 { return h.oid }
func (h *Handle) Selectors() []string { return h.selectors }

func (h *Handle) String() string { return fmt.Sprintf("proxy[%s/%d]", h.token, h.oid) }

// Call invokes method on the remote object, synchronously
func (h *Handle) Call(method string, args ...any) (any, error) {
	if !selectorAllowed(h.selectors, method) {
		return nil, fmt.Errorf("%s: selector %q not in capability set %v", h, method, h.selectors)
	}
	v, err := h.ch.Call(h.oid, method, args...)
	if err != nil {
		// attach the call site to the remote failure
		return nil, fmt.Errorf("%s.%s: %w", h, method, err)
	}
	return v, nil
}

// CallAsync is the asynchronous form
func (h *Handle) CallAsync(method string, args ...any) (*Future, error) {
	if !selectorAllowed(h.selectors, method) {
		return nil, fmt.Errorf("%s: selector %q not in capability set %v", h, method, h.selectors)
	}
	return h.ch.CallAsync(h.oid, method, args...)
}

// Release drops the remote reference backing this handle
func (h *Handle) Release() error {
	return h.ch.send(&proto.Unexport{OID: h.oid})
}

//
// value translation: local objects <-> wire refs
//

// packCall renders a selector + argument list; Exportable arguments are
// exported (auto-unexport) and travel as refs, handles travel as refs to
// their origin
func (ch *Channel) packCall(method string, args []any) ([]byte, error) {
	wire := make([]any, len(args))
	for i, a := range args {
		wire[i] = ch.exportValue(a)
	}
	return proto.PackCall(method, wire)
}

func (ch *Channel) packResult(v any) ([]byte, error) {
	return proto.PackResult(ch.exportValue(v))
}

func (ch *Channel) exportValue(v any) any {
	switch x := v.(type) {
	case *Handle:
		// a proxy travels as a ref to its own origin; when it returns to
		// the exporting side, the receiver recovers the original object
		return &proto.Ref{Token: x.token, OID: x.oid, Selectors: x.selectors}
	case Exportable:
		oid := ch.exports.Export(x.Selectors(), x, true /*autoUnexport*/)
		return &proto.Ref{Token: ch.token, OID: oid, Selectors: x.Selectors()}
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = ch.exportValue(el)
		}
		return out
	default:
		return v
	}
}

func (ch *Channel) resolveArgs(args []any) []any {
	for i, a := range args {
		args[i] = ch.resolveValue(a)
	}
	return args
}

// resolveValue turns wire refs back into objects: a ref carrying our own
// token resolves to the original local object (no proxy-to-a-proxy); any
// other token produces a proxy handle
func (ch *Channel) resolveValue(v any) any {
	switch x := v.(type) {
	case *proto.Ref:
		if x.Token == ch.token {
			if obj, err := ch.exports.Get(x.OID); err == nil {
				return obj
			}
			// fall through: a stale self-ref degrades to a proxy and fails
			// at call time
		}
		return newHandle(ch, x.Token, x.OID, x.Selectors)
	case []any:
		for i, el := range x {
			x[i] = ch.resolveValue(el)
		}
		return x
	default:
		return v
	}
}
