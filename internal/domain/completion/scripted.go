package completion

import (
	"context"
	"sync"
)

// ScriptedGateway is an in-memory Gateway that replays canned results per
// purpose. It is used by tests and by the offline CLI demo mode.
type ScriptedGateway struct {
	mu       sync.Mutex
	scripts  map[Purpose][]Result
	fallback func(req Request) Result
	calls    []Request
}

// NewScriptedGateway creates an empty scripted gateway. Unscripted calls
// return a TransportFailure unless a fallback is set.
func NewScriptedGateway() *ScriptedGateway {
	return &ScriptedGateway{scripts: make(map[Purpose][]Result)}
}

// On queues results for a purpose. They are consumed in order; the last one
// repeats once the queue is drained.
func (g *ScriptedGateway) On(p Purpose, results ...Result) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[p] = append(g.scripts[p], results...)
	return g
}

// OnText is a shortcut for On with Success results.
func (g *ScriptedGateway) OnText(p Purpose, texts ...string) *ScriptedGateway {
	results := make([]Result, len(texts))
	for i, t := range texts {
		results[i] = Success(t)
	}
	return g.On(p, results...)
}

// Fallback sets the responder used when a purpose has no script.
func (g *ScriptedGateway) Fallback(fn func(req Request) Result) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fallback = fn
	return g
}

// Complete implements Gateway.
func (g *ScriptedGateway) Complete(ctx context.Context, req Request) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, req)

	if err := ctx.Err(); err != nil {
		return TransportFailure(err)
	}

	queue := g.scripts[req.Purpose]
	switch len(queue) {
	case 0:
		if g.fallback != nil {
			return g.fallback(req)
		}
		return TransportFailure(nil)
	case 1:
		return queue[0]
	default:
		g.scripts[req.Purpose] = queue[1:]
		return queue[0]
	}
}

// Calls returns a copy of the requests seen so far.
func (g *ScriptedGateway) Calls() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallCount returns how many calls were made for a purpose.
func (g *ScriptedGateway) CallCount(p Purpose) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.Purpose == p {
			n++
		}
	}
	return n
}
