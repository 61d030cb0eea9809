// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package middleware implements the ordered interceptor chain described in
// spec.md §4.6, grounded on the onion-composition middleware chain of
// other_examples/2027f93f_BX-D-mini-RPC__server-server.go.go
// ("Chain(A, B, C)(handler) -> A(B(C(handler)))").
package middleware

import "code.hybscloud.com/meshrpc"

// MethodDescriptor identifies the method an invocation targets, passed to
// each interceptor so it can observe (and, via the chain, transform) the
// call without knowing about any particular service's generated stubs.
type MethodDescriptor struct {
	ServiceName string
	MethodName  string
}

// Invoker is "the next invoker" an interceptor wraps: given the current
// Context and positional arguments, it produces a result or an error.
type Invoker func(ctx *meshrpc.Context, args []any) (result any, err error)

// Middleware wraps an Invoker and returns a new one that may observe args,
// await the wrapped result, and transform it (§4.6).
type Middleware func(next Invoker) Invoker

// Chain composes middlewares right-to-left around handler: the first
// Middleware in the list is outermost (its before-logic runs first, its
// after-logic runs last), matching the order middlewares are installed in
// at client/processor construction (§4.6).
func Chain(middlewares ...Middleware) func(handler Invoker) Invoker {
	return func(handler Invoker) Invoker {
		invoker := handler
		for i := len(middlewares) - 1; i >= 0; i-- {
			invoker = middlewares[i](invoker)
		}
		return invoker
	}
}
