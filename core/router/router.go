// Package router implements a linear, first-registered-wins
// (method, path) matcher with ":param" segment captures, grounded on
// the Rust source's PathRouter<T> (http/path_matcher.rs), which scans
// its route list with find_map rather than a radix tree — the
// property this module needs (registration order decides ambiguous
// matches) that a priority-based router cannot guarantee.
package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pirkus/nvo-servers/core/request"
	"github.com/pirkus/nvo-servers/core/response"
)

// HandlerFunc is the handler ABI: it reads an already-parsed Request
// and returns the Response to write back, or an error the reactor
// turns into a 500.
type HandlerFunc func(*request.Request) (*response.Response, error)

type segment struct {
	literal   string
	isParam   bool
	paramName string
}

type route struct {
	method  string
	pattern string
	segs    []segment
	handler HandlerFunc
}

// Router holds routes in registration order.
type Router struct {
	routes []*route
}

// New creates an empty Router.
func New() *Router {
	return &Router{}
}

func compile(pattern string) []segment {
	var segs []segment
	for _, part := range strings.Split(pattern, "/") {
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, ":") {
			segs = append(segs, segment{isParam: true, paramName: part[1:]})
		} else {
			segs = append(segs, segment{literal: part})
		}
	}
	return segs
}

func shapeKey(segs []segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		if s.isParam {
			parts[i] = ":param"
		} else {
			parts[i] = s.literal
		}
	}
	return strings.Join(parts, "/")
}

// Handle registers a handler for (method, pattern). It returns an
// error if the same method already has a route with an identical
// segment shape (same length, same literal-vs-capture positions),
// matching SPEC_FULL.md's PathPattern uniqueness invariant.
func (r *Router) Handle(method, pattern string, h HandlerFunc) error {
	method = strings.ToUpper(method)
	segs := compile(pattern)
	key := shapeKey(segs)

	for _, existing := range r.routes {
		if existing.method == method && shapeKey(existing.segs) == key {
			return fmt.Errorf("router: duplicate route %s %s conflicts with %s", method, pattern, existing.pattern)
		}
	}

	r.routes = append(r.routes, &route{method: method, pattern: pattern, segs: segs, handler: h})
	return nil
}

func splitPath(path string) []string {
	var out []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func extract(segs []segment, pathSegs []string) (map[string]string, bool) {
	if len(segs) != len(pathSegs) {
		return nil, false
	}
	var params map[string]string
	for i, s := range segs {
		if s.isParam {
			if params == nil {
				params = make(map[string]string)
			}
			params[s.paramName] = pathSegs[i]
		} else if s.literal != pathSegs[i] {
			return nil, false
		}
	}
	return params, true
}

// ErrNotFound (404) and *MethodNotAllowedError (405) are the errors
// Match returns; MethodNotAllowedError's Allow field lists the methods
// that do have a route matching the same path shape.
var ErrNotFound = errors.New("router: no route matches path")

// MethodNotAllowedError carries the Allow header value for a 405.
type MethodNotAllowedError struct {
	Allow []string
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("router: method not allowed, allow: %s", strings.Join(e.Allow, ", "))
}

// Match finds the first registered route whose method and path both
// match. If no route's path shape matches, it returns ErrNotFound
// (404). If some route's path shape matches under a different method,
// it returns *MethodNotAllowedError (405) with the allowed methods
// sorted for deterministic Allow-header output.
func (r *Router) Match(method, path string) (HandlerFunc, map[string]string, error) {
	method = strings.ToUpper(method)
	pathSegs := splitPath(path)

	var allowed []string
	seen := make(map[string]bool)
	for _, rt := range r.routes {
		params, ok := extract(rt.segs, pathSegs)
		if !ok {
			continue
		}
		if rt.method == method {
			return rt.handler, params, nil
		}
		if !seen[rt.method] {
			seen[rt.method] = true
			allowed = append(allowed, rt.method)
		}
	}

	if len(allowed) > 0 {
		sort.Strings(allowed)
		return nil, nil, &MethodNotAllowedError{Allow: allowed}
	}
	return nil, nil, ErrNotFound
}
