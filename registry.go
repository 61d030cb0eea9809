// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package meshrpc

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// Callback is invoked by the registry when a reply matching a registered
// context's op id arrives. frame is positioned past the decoded header block
// so the callback can parse the codec body directly (§4.5).
type Callback func(frame []byte)

// Registry assigns a unique op id to each outstanding request, parks the
// caller's callback, and routes the matching reply back to it (§4.5). One
// Registry is constructed per transport (§9 design note: the counter is
// per-instance, not process-global).
//
// Registry is safe for concurrent Register/Unregister/Execute: the map is
// guarded by a mutex and the counter is a separate atomic; callback
// invocation happens outside the lock (§5).
type Registry struct {
	counter atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	ctx      *Context
	callback Callback
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*pendingEntry)}
}

// Register assigns a fresh, strictly increasing op id to ctx, writes it back
// into ctx, and parks callback under that id. It fails with
// ErrContextAlreadyRegistered if ctx's current op id already has a live
// callback registered (§4.5).
func (r *Registry) Register(ctx *Context, callback Callback) error {
	r.mu.Lock()
	if ctx.OpID() != 0 {
		if _, live := r.pending[strconv.FormatUint(ctx.OpID(), 10)]; live {
			r.mu.Unlock()
			return ErrContextAlreadyRegistered
		}
	}
	id := r.counter.Add(1)
	ctx.setOpID(id)
	r.pending[strconv.FormatUint(id, 10)] = &pendingEntry{ctx: ctx, callback: callback}
	r.mu.Unlock()
	return nil
}

// Unregister removes ctx's pending entry, if any. Absence is a no-op (§4.5).
func (r *Registry) Unregister(ctx *Context) {
	key := strconv.FormatUint(ctx.OpID(), 10)
	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()
}

// Execute decodes the header block from frame, looks up "_opid" in the
// pending map, and invokes the matching callback with frame positioned past
// the header. A frame with no matching op id is dropped silently — the
// caller may have already timed out and unregistered (§4.5, §8 invariant 5).
// A frame missing "_opid" fails with ProtocolException.
func (r *Registry) Execute(frame []byte) error {
	headers, consumed, err := decodeHeaders(frame, 0)
	if err != nil {
		return err
	}
	opID, ok := headers[headerOpID]
	if !ok {
		return newProtocolException(HeaderMissingOpID, "reply header frame is missing _opid")
	}

	r.mu.Lock()
	entry, live := r.pending[opID]
	if live {
		delete(r.pending, opID)
	}
	r.mu.Unlock()

	if !live {
		return nil
	}
	entry.callback(frame[consumed:])
	return nil
}

// Len reports the number of currently pending registrations. Intended for
// tests and metrics (§8 scenarios reference "registry empty at quiescence").
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
