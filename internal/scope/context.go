// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scope

import "context"

type contextKey string

const requestScopeKey contextKey = "request_scope"

// With returns a context carrying s. A nil s hides any scope attached to a
// parent context.
func With(ctx context.Context, s *RequestScope) context.Context {
	return context.WithValue(ctx, requestScopeKey, s)
}

// Current returns the scope attached to ctx. Absence is the normal state for
// anonymous requests and background work.
func Current(ctx context.Context) (*RequestScope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(requestScopeKey).(*RequestScope)
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}

// Run calls fn with s attached to the context it receives. The caller's ctx
// is left untouched, so an enclosing scope is visible again once fn returns.
func Run(ctx context.Context, s *RequestScope, fn func(ctx context.Context) error) error {
	return fn(With(ctx, s))
}
