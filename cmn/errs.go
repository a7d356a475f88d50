// Package cmn provides common constants, types, and utilities for the
// remoting engine and its clients
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package cmn

import (
	"errors"
	"fmt"

	"github.com/chanlab/remoting/cmn/cos"
)

type (
	// ErrChannelClosed rejects outbound operations after sender-side close
	ErrChannelClosed struct {
		cause error // original close/termination cause, possibly nil
	}
	// ErrStreamCorruption carries the flight-recorder contents captured
	// when command deserialization fails
	ErrStreamCorruption struct {
		cause     error
		Recorded  []byte
		ReadAhead []byte
	}
	// ErrNoSuchObject: export table miss
	ErrNoSuchObject struct {
		OID uint32
	}
	// ErrRemoteCallFailed wraps a failure response with the remote stack
	ErrRemoteCallFailed struct {
		Remote string // remote error rendering
		Stack  string // remote stack, best-effort
	}
	// ErrOrderlyShutdown signals that a Close command was processed;
	// reported to listeners as a nil cause (clean close)
	ErrOrderlyShutdown struct {
		cause error
	}
	// ErrConnectionLost: transport I/O failure on read or write
	ErrConnectionLost struct {
		cause error
	}
)

/////////////////////
// ErrChannelClosed //
/////////////////////

func NewErrChannelClosed(cause error) *ErrChannelClosed {
	return &ErrChannelClosed{cause: cause}
}

func (e *ErrChannelClosed) Error() string {
	if e.cause == nil {
		return "channel closed"
	}
	return "channel closed: " + e.cause.Error()
}

func (e *ErrChannelClosed) Unwrap() error { return e.cause }

func IsErrChannelClosed(err error) bool {
	var e *ErrChannelClosed
	return errors.As(err, &e)
}

/////////////////////////
// ErrStreamCorruption //
/////////////////////////

func NewErrStreamCorruption(cause error, recorded, readAhead []byte) *ErrStreamCorruption {
	return &ErrStreamCorruption{cause: cause, Recorded: recorded, ReadAhead: readAhead}
}

func (e *ErrStreamCorruption) Error() string {
	return fmt.Sprintf("stream corruption: %v (recorded %s, read-ahead %s)",
		e.cause, cos.ToSizeIEC(int64(len(e.Recorded)), 0), cos.ToSizeIEC(int64(len(e.ReadAhead)), 0))
}

func (e *ErrStreamCorruption) Unwrap() error { return e.cause }

/////////////////////
// ErrNoSuchObject //
/////////////////////

func NewErrNoSuchObject(oid uint32) *ErrNoSuchObject { return &ErrNoSuchObject{OID: oid} }

func (e *ErrNoSuchObject) Error() string { return fmt.Sprintf("no such exported object: oid %d", e.OID) }

func IsErrNoSuchObject(err error) bool {
	var e *ErrNoSuchObject
	return errors.As(err, &e)
}

/////////////////////////
// ErrRemoteCallFailed //
/////////////////////////

func NewErrRemoteCallFailed(remote, stack string) *ErrRemoteCallFailed {
	return &ErrRemoteCallFailed{Remote: remote, Stack: stack}
}

func (e *ErrRemoteCallFailed) Error() string {
	if e.Stack == "" {
		return "remote call failed: " + e.Remote
	}
	return "remote call failed: " + e.Remote + "\nremote stack:\n" + e.Stack
}

////////////////////////
// ErrOrderlyShutdown //
////////////////////////

func NewErrOrderlyShutdown(cause error) *ErrOrderlyShutdown {
	return &ErrOrderlyShutdown{cause: cause}
}

func (e *ErrOrderlyShutdown) Error() string {
	if e.cause == nil {
		return "orderly shutdown"
	}
	return "orderly shutdown: " + e.cause.Error()
}

func (e *ErrOrderlyShutdown) Unwrap() error { return e.cause }

func IsErrOrderlyShutdown(err error) bool {
	var e *ErrOrderlyShutdown
	return errors.As(err, &e)
}

///////////////////////
// ErrConnectionLost //
///////////////////////

func NewErrConnectionLost(cause error) *ErrConnectionLost {
	return &ErrConnectionLost{cause: cause}
}

func (e *ErrConnectionLost) Error() string { return "connection lost: " + e.cause.Error() }

func (e *ErrConnectionLost) Unwrap() error { return e.cause }
