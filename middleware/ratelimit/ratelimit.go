// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ratelimit is a middleware.Middleware that rejects calls exceeding
// a configured rate with meshrpc.RateLimitException, exercising the
// processor's documented translation of RateLimitException into
// ApplicationException(RATE_LIMIT_EXCEEDED) (spec.md §4.9, §7). [EXPANSION]
//
// Grounded on other_examples/BX-D-mini-RPC's go.mod direct dependency on
// golang.org/x/time.
package ratelimit

import (
	"fmt"

	"golang.org/x/time/rate"

	"code.hybscloud.com/meshrpc"
	"code.hybscloud.com/meshrpc/middleware"
)

// New returns a middleware.Middleware enforcing a token-bucket limit of r
// events per second with the given burst size. A call that would exceed the
// limit is rejected immediately (no waiting) with a RateLimitException.
func New(r rate.Limit, burst int) middleware.Middleware {
	limiter := rate.NewLimiter(r, burst)
	return func(next middleware.Invoker) middleware.Invoker {
		return func(ctx *meshrpc.Context, args []any) (any, error) {
			if !limiter.Allow() {
				return nil, &meshrpc.RateLimitException{
					Message: fmt.Sprintf("rate limit exceeded for correlation %s", ctx.CorrelationID()),
				}
			}
			return next(ctx, args)
		}
	}
}
