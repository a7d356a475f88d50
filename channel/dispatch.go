// Package channel implements one endpoint of a symmetric, full-duplex
// remoting session: export table, request dispatcher, invocation proxies,
// flow-controlled pipes, and the channel lifecycle
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package channel

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/chanlab/remoting/cmn"
	"github.com/chanlab/remoting/cmn/nlog"
	"github.com/chanlab/remoting/proto"
)

type (
	// Future is the async form of a call; Cancel aborts the local wait
	// only - there is no wire command for remote cancellation, so the
	// peer keeps executing the request and its late response is dropped
	Future struct {
		ch    *Channel
		value any
		err   error
		done  chan struct{}
		once  sync.Once
		reqID uint64
	}

	// executing-side bookkeeping for one inbound request
	execution struct {
		cancel context.CancelFunc
		ctx    context.Context
	}
)

// Call issues a synchronous request: block until the matching response
// arrives or the channel terminates
func (ch *Channel) Call(oid uint32, method string, args ...any) (any, error) {
	f, err := ch.CallAsync(oid, method, args...)
	if err != nil {
		return nil, err
	}
	return f.Get()
}

// CallAsync issues the request and returns a future over the response
func (ch *Channel) CallAsync(oid uint32, method string, args ...any) (*Future, error) {
	payload, err := ch.packCall(method, args)
	if err != nil {
		return nil, err
	}
	if err := ch.checkAlive(); err != nil {
		return nil, err
	}
	req := &proto.UserRequest{ReqID: ch.reqID.Inc(), OID: oid, Payload: payload}
	f := &Future{ch: ch, reqID: req.ReqID, done: make(chan struct{})}
	ch.pending.Store(req.ReqID, f)
	if err := ch.send(req); err != nil {
		ch.pending.Delete(req.ReqID)
		return nil, err
	}
	return f, nil
}

func (f *Future) Done() <-chan struct{} { return f.done }

// Get blocks until the response or channel termination
func (f *Future) Get() (any, error) {
	select {
	case <-f.done:
	case <-f.ch.term.Listen():
		f.fail(f.ch.closedErr())
	}
	<-f.done
	return f.value, f.err
}

// Cancel fails the future with cause and releases its pending entry; no
// execution, local or remote, is canceled by it
func (f *Future) Cancel(cause error) {
	if cause == nil {
		cause = fmt.Errorf("call %d canceled", f.reqID)
	}
	f.fail(cause)
}

func (f *Future) complete(v any, err error) {
	f.once.Do(func() {
		f.value, f.err = v, err
		f.ch.pending.Delete(f.reqID)
		close(f.done)
	})
}

func (f *Future) fail(err error) { f.complete(nil, err) }

//
// inbound side
//

// handleRequest runs on the command executor: deserialize, invoke the
// target, respond with the same request-id
func (ch *Channel) handleRequest(req *proto.UserRequest) {
	ctx, cancel := context.WithCancel(context.Background())
	ch.executing.Store(req.ReqID, &execution{ctx: ctx, cancel: cancel})
	go func() {
		defer func() {
			cancel()
			ch.executing.Delete(req.ReqID)
		}()
		rsp := ch.executeRequest(ctx, req)
		if rsp == nil {
			return
		}
		// pipe I/O submitted before this point must land first
		ch.lane.SyncIO(ch.lane.LastSubmitted())
		if err := ch.send(rsp); err != nil {
			nlog.Warningf("%s: failed to respond to req %d: %v", ch, req.ReqID, err)
		}
	}()
}

func (ch *Channel) executeRequest(ctx context.Context, req *proto.UserRequest) *proto.Response {
	rsp := &proto.Response{ReqID: req.ReqID}
	method, args, err := proto.UnpackCall(req.Payload)
	if err != nil {
		rsp.Err = fmt.Sprintf("malformed request payload: %v", err)
		return rsp
	}
	obj, err := ch.exports.Get(req.OID)
	if err != nil {
		rsp.Err = err.Error()
		return rsp
	}
	target, ok := obj.(Invokable)
	if !ok {
		rsp.Err = fmt.Sprintf("oid %d is not invokable (%T)", req.OID, obj)
		return rsp
	}
	if !selectorAllowed(ch.exports.Selectors(req.OID), method) {
		rsp.Err = fmt.Sprintf("selector %q not in oid %d capability set", method, req.OID)
		return rsp
	}

	// auto-exports made while serving this request release with it
	rec := ch.exports.StartRecording()
	v, callErr := ch.invoke(ctx, target, method, ch.resolveArgs(args))
	rec.StopAndRelease(callErr, true /*autoOnly*/)

	if ctx.Err() != nil {
		return nil // canceled locally, the response is moot
	}
	if callErr != nil {
		rsp.Err = callErr.Error()
		rsp.Stack = callStack()
		return rsp
	}
	value, err := ch.packResult(v)
	if err != nil {
		rsp.Err = fmt.Sprintf("unserializable return value: %v", err)
		return rsp
	}
	rsp.OK, rsp.Value = true, value
	return rsp
}

func (ch *Channel) invoke(_ context.Context, target Invokable, method string, args []any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %q: %v", method, r)
		}
	}()
	return target.Invoke(ch, method, args)
}

// handleResponse completes the matching pending call; at most one response
// is ever delivered per request-id
func (ch *Channel) handleResponse(rsp *proto.Response) {
	v, ok := ch.pending.Load(rsp.ReqID)
	if !ok {
		nlog.Warningf("%s: response for unknown req %d (late cancel?)", ch, rsp.ReqID)
		return
	}
	f := v.(*Future)
	if !rsp.OK {
		f.fail(cmn.NewErrRemoteCallFailed(rsp.Err, rsp.Stack))
		return
	}
	value, err := proto.UnpackResult(rsp.Value)
	if err != nil {
		f.fail(fmt.Errorf("undecodable response for req %d: %v", rsp.ReqID, err))
		return
	}
	f.complete(ch.resolveValue(value), nil)
}

// abortCalls fails every pending call and cancels every local execution
// (channel termination)
func (ch *Channel) abortCalls(cause error) {
	ch.pending.Range(func(_, v any) bool {
		v.(*Future).fail(cmn.NewErrChannelClosed(cause))
		return true
	})
	ch.executing.Range(func(k, v any) bool {
		v.(*execution).cancel()
		ch.executing.Delete(k)
		return true
	})
}

func selectorAllowed(selectors []string, method string) bool {
	for _, s := range selectors {
		if s == method || s == "*" {
			return true
		}
	}
	return false
}

func callStack() string {
	buf := make([]byte, 4096)
	return string(buf[:runtime.Stack(buf, false)])
}
