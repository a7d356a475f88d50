// Package channel implements one endpoint of a symmetric, full-duplex
// remoting session: export table, request dispatcher, invocation proxies,
// flow-controlled pipes, and the channel lifecycle
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package channel

import (
	"fmt"
	"sync"
)

// properties: a key-value map with blocking waiters; waiters unblock when
// the key appears or the channel closes
type properties struct {
	m      map[string]any
	closed error
	cond   *sync.Cond
	mu     sync.Mutex
}

func newProperties() *properties {
	p := &properties{m: make(map[string]any, 4)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *properties) get(key string) any {
	p.mu.Lock()
	v := p.m[key]
	p.mu.Unlock()
	return v
}

func (p *properties) set(key string, v any) {
	p.mu.Lock()
	if v == nil {
		delete(p.m, key)
	} else {
		p.m[key] = v
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *properties) wait(key string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if v, ok := p.m[key]; ok {
			return v, nil
		}
		if p.closed != nil {
			return nil, p.closed
		}
		p.cond.Wait()
	}
}

func (p *properties) abort(cause error) {
	p.mu.Lock()
	p.closed = cause
	p.cond.Broadcast()
	p.mu.Unlock()
}

//
// channel surface
//

func (ch *Channel) GetProperty(key string) any { return ch.props.get(key) }
func (ch *Channel) SetProperty(key string, v any) { ch.props.set(key, v) }

// WaitForProperty blocks until the key is present or the channel closes
func (ch *Channel) WaitForProperty(key string) (any, error) {
	return ch.props.wait(key)
}

// GetRemoteProperty reads a property of the peer's channel object
func (ch *Channel) GetRemoteProperty(key string) (any, error) {
	return ch.Remote().Call("getProperty", key)
}

// WaitForRemoteProperty blocks until the peer has the property set
func (ch *Channel) WaitForRemoteProperty(key string) (any, error) {
	return ch.Remote().Call("waitForProperty", key)
}

// Invoke makes the channel itself remotely callable (oid 1)
func (ch *Channel) Invoke(_ *Channel, method string, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s: %q takes one argument, got %d", ch, method, len(args))
	}
	key, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("%s: %q: non-string key %T", ch, method, args[0])
	}
	switch method {
	case "getProperty":
		return ch.props.get(key), nil
	case "waitForProperty":
		return ch.props.wait(key)
	default:
		return nil, fmt.Errorf("%s: unknown selector %q", ch, method)
	}
}

// interface guard
var _ Invokable = (*Channel)(nil)
