// Package channel implements one endpoint of a symmetric, full-duplex
// remoting session: export table, request dispatcher, invocation proxies,
// flow-controlled pipes, and the channel lifecycle
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package channel

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/chanlab/remoting/cmn"
	"github.com/chanlab/remoting/cmn/atomic"
	"github.com/chanlab/remoting/cmn/cos"
	"github.com/chanlab/remoting/cmn/debug"
	"github.com/chanlab/remoting/cmn/nlog"
	"github.com/chanlab/remoting/frame"
	"github.com/chanlab/remoting/hk"
	"github.com/chanlab/remoting/proto"
	"github.com/chanlab/remoting/transport"
)

// channel lifecycle states
const (
	stateAlive = int32(iota)
	stateCloseRequested
	stateTerminated
)

// selectors of the channel object itself (oid 1)
var chanSelectors = []string{"getProperty", "waitForProperty"}

type (
	// Options tune channel construction; zero value is usable
	Options struct {
		Config *cmn.Config
		Mode   frame.Mode
		Caps   proto.Caps
	}

	// Counters are cheap-to-read diagnostics; sent/received are monotone
	// and comparable across peers to detect stuck pipelines
	Counters struct {
		CommandsSent     atomic.Int64
		CommandsReceived atomic.Int64
		LastSentAt       atomic.Time
		LastHeardAt      atomic.Time
		ResourceLoads    atomic.Int64
		ResourceLoadNS   atomic.Int64
	}

	// Channel is one side of one connection
	Channel struct {
		transport *transport.CommandTransport
		exports   *ExportTable
		windows   *windows
		lane      *singleLane
		props     *properties
		listeners *listeners

		name    string
		token   string // origin token carried by outgoing refs
		peerTok string // learned from the peer's preamble

		pending   sync.Map // reqID -> *Future (issued locally)
		executing sync.Map // reqID -> *execution (received from remote)

		reqID atomic.Uint64
		ioid  atomic.Int64

		Cnt Counters

		term     *cos.StopCh
		termErr  error
		termOnce sync.Once
		closeMu  sync.Mutex
		state    atomic.Int32

		winMax    int64
		gcExports int64
		hkName    string
	}
)

// interface guards
var (
	_ transport.Receiver = (*recv)(nil)
	_ proto.Handler      = (*recv)(nil)
)

// New takes ownership of rwc, performs the wire handshake, exports the
// channel itself as oid 1, and starts the read loop and pipe lane
func New(name string, rwc io.ReadWriteCloser, opts Options) (*Channel, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = cmn.DefaultConfig()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		rwc.Close()
		return nil, err
	}
	caps := opts.Caps
	if caps == 0 {
		caps = proto.DefaultCaps
	}
	token := cos.GenToken()
	conn, err := frame.Setup(rwc, opts.Mode, caps, token, cfg.Frame.SizeChunk, cfg.Frame.SizeRecorder)
	if err != nil {
		rwc.Close()
		return nil, err
	}
	ch := &Channel{
		transport: transport.New(conn),
		exports:   newExportTable(),
		windows:   newWindows(),
		lane:      newSingleLane(),
		props:     newProperties(),
		listeners: newListeners(),
		name:      name,
		token:     token,
		peerTok:   conn.PeerID,
		term:      cos.NewStopCh(),
		winMax:    cfg.Window.Max,
		gcExports: cfg.HK.GCExports,
	}
	oid := ch.exports.Export(chanSelectors, ch, false)
	debug.Assert(oid == ChannelOID)
	ch.exports.Pin(oid)

	ch.hkName = "channel-" + ch.token + hk.NameSuffix
	hk.Reg(ch.hkName, ch.housekeep, cfg.HK.Interval.D())

	ch.transport.Setup(&recv{ch})
	nlog.Infof("%s: up [caps=%s]", ch, ch.transport.Caps())
	return ch, nil
}

func (ch *Channel) Name() string { return ch.name }
func (ch *Channel) Token() string { return ch.token }

func (ch *Channel) String() string { return fmt.Sprintf("chan[%s/%s]", ch.name, ch.token) }

// Remote returns the proxy for the peer's channel object (oid 1)
func (ch *Channel) Remote() *Handle { return newHandle(ch, ch.peerTok, ChannelOID, chanSelectors) }

// PendingCalls reports the number of locally issued requests still
// awaiting a response
func (ch *Channel) PendingCalls() (n int) {
	ch.pending.Range(func(_, _ any) bool { n++; return true })
	return
}

// ExecutingCalls reports the number of peer requests currently being
// processed locally
func (ch *Channel) ExecutingCalls() (n int) {
	ch.executing.Range(func(_, _ any) bool { n++; return true })
	return
}

// Export publishes obj to the peer and returns the traveling ref
func (ch *Channel) Export(obj Invokable, selectors []string, autoUnexport bool) *proto.Ref {
	oid := ch.export(selectors, obj, autoUnexport)
	return &proto.Ref{Token: ch.token, OID: oid, Selectors: selectors}
}

func (ch *Channel) export(selectors []string, obj any, auto bool) uint32 {
	oid := ch.exports.Export(selectors, obj, auto)
	if total := ch.exports.Total(); total%ch.gcExports == 0 {
		// compatibility prod for peers that reclaim proxies out of band
		if err := ch.send(&proto.GC{}); err != nil {
			ch.warnf("gc command: %v", err)
		}
	}
	return oid
}

// Unexport drops one local reference to a previously exported ref
func (ch *Channel) Unexport(ref *proto.Ref, cause error) {
	debug.Assert(ref.Token == ch.token)
	ch.exports.UnexportByOID(ref.OID, cause, false)
}

//
// lifecycle
//

// Close is the orderly path: send the Close command (the last outbound
// command ever) and return; termination follows when the reciprocal Close
// arrives. Idempotent; a failed send escalates to Terminate.
func (ch *Channel) Close(cause error) error {
	ch.closeMu.Lock()
	if !ch.state.CAS(stateAlive, stateCloseRequested) {
		ch.closeMu.Unlock()
		return nil // second and later calls are no-ops
	}
	cmd := &proto.Close{}
	if cause != nil {
		cmd.Cause = cause.Error()
	}
	n, err := ch.transport.Write(cmd, true /*isClose*/)
	ch.closeMu.Unlock()
	if err != nil {
		ch.Terminate(err)
		return err
	}
	ch.noteSent(cmd, n)
	return nil
}

// Terminate is the abrupt path; both paths converge here. All pending and
// executing requests fail, all waiters unblock, every strong reference the
// channel holds is dropped, and listeners fire exactly once.
func (ch *Channel) Terminate(cause error) {
	ch.termOnce.Do(func() {
		ch.termErr = cause // published by the state store below
		ch.state.Store(stateTerminated)
		hk.Unreg(ch.hkName)

		ch.transport.CloseRead()
		ch.transport.CloseWrite()
		ch.transport.Close()

		closedErr := cmn.NewErrChannelClosed(cause)
		ch.abortCalls(cause)
		ch.windows.abort(closedErr)
		ch.exports.Abort(cause)
		ch.props.abort(closedErr)
		ch.lane.Stop()

		// an orderly shutdown reports a nil cause to listeners
		notified := cause
		if cmn.IsErrOrderlyShutdown(cause) {
			notified = nil
		}
		ch.listeners.notifyClosed(ch, notified)
		ch.term.Close() // joiners unblock last, with listeners already done
		if notified == nil {
			nlog.Infof("%s: closed", ch)
		} else {
			nlog.Infof("%s: terminated: %v", ch, notified)
		}
	})
}

// Join blocks until the channel is fully down, waking at least every
// watchdog interval; returns false on timeout
func (ch *Channel) Join(timeout time.Duration) bool {
	var (
		watchdog = cmn.Rom.JoinWatchdog()
		deadline <-chan time.Time
	)
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		wake := time.NewTimer(watchdog)
		select {
		case <-ch.term.Listen():
			wake.Stop()
			return true
		case <-deadline:
			wake.Stop()
			return false
		case <-wake.C:
			nlog.Infof("%s: still joined [sent %d, received %d]",
				ch, ch.Cnt.CommandsSent.Load(), ch.Cnt.CommandsReceived.Load())
		}
	}
}

func (ch *Channel) Terminated() bool { return ch.state.Load() == stateTerminated }

// TermCause returns the termination cause once terminated
func (ch *Channel) TermCause() error {
	if !ch.Terminated() {
		return nil
	}
	return ch.termErr
}

func (ch *Channel) checkAlive() error {
	if ch.state.Load() != stateAlive {
		return ch.closedErr()
	}
	return nil
}

func (ch *Channel) closedErr() error {
	if ch.Terminated() {
		cause := ch.termErr
		if cmn.IsErrOrderlyShutdown(cause) {
			cause = nil
		}
		return cmn.NewErrChannelClosed(cause)
	}
	return cmn.NewErrChannelClosed(nil)
}

//
// outbound path
//

// send serializes and writes cmd; rejected once the sender half is closed
func (ch *Channel) send(cmd proto.Command) error {
	if err := ch.checkAlive(); err != nil {
		return err
	}
	n, err := ch.transport.Write(cmd, false)
	if err != nil {
		if !cmn.IsErrChannelClosed(err) {
			ch.Terminate(err)
		}
		return err
	}
	ch.noteSent(cmd, n)
	return nil
}

func (ch *Channel) noteSent(cmd proto.Command, size int) {
	ch.Cnt.CommandsSent.Inc()
	ch.Cnt.LastSentAt.StoreNow()
	ch.listeners.notifyWrite(ch, cmd, size)
	if cmn.Rom.Verbose() {
		nlog.Infof("%s: sent %s [%dB]", ch, cmd, size)
	}
}

func (ch *Channel) nextIOID() int64 { return ch.ioid.Inc() }

// NoteResourceLoad accounts one remote resource fetch (class or blob) for
// diagnostics
func (ch *Channel) NoteResourceLoad(d time.Duration) {
	ch.Cnt.ResourceLoads.Inc()
	ch.Cnt.ResourceLoadNS.Add(int64(d))
}

//
// inbound path (transport.Receiver)
//

type recv struct{ ch *Channel }

// Handle runs on the transport read driver: commands arrive in exact wire
// order; executions that may block hop onto the pool (one goroutine per
// request) or the single-lane pipe executor
func (rx *recv) Handle(cmd proto.Command, wireSize int) error {
	ch := rx.ch
	ch.Cnt.CommandsReceived.Inc()
	ch.Cnt.LastHeardAt.StoreNow()
	ch.listeners.notifyRead(ch, cmd, wireSize)
	if cmn.Rom.Verbose() {
		nlog.Infof("%s: received %s [%dB]", ch, cmd, wireSize)
	}
	return cmd.Execute(rx)
}

func (rx *recv) Terminate(err error) {
	ch := rx.ch
	if ch.Terminated() {
		return
	}
	if _, ok := err.(*cmn.ErrStreamCorruption); ok {
		nlog.Errorln(err)
	}
	ch.Terminate(err)
}

// proto.Handler (double dispatch from Command.Execute)

func (rx *recv) HandleRequest(req *proto.UserRequest) error {
	rx.ch.handleRequest(req)
	return nil
}

func (rx *recv) HandleResponse(rsp *proto.Response) error {
	rx.ch.handleResponse(rsp)
	return nil
}

func (rx *recv) HandleClose(c *proto.Close) error {
	ch := rx.ch
	// pipe side effects that arrived before the Close must land first
	ch.lane.SyncIO(ch.lane.LastSubmitted())
	ch.Close(nil) // reciprocate if we have not closed yet
	var cause error
	if c.Cause != "" {
		cause = remoteErr(c.Cause)
	}
	ch.Terminate(cmn.NewErrOrderlyShutdown(cause))
	return nil
}

func (*recv) HandleGC(*proto.GC) error { return nil } // refcounted runtime: nothing to prod

func (rx *recv) HandleUnexport(u *proto.Unexport) error {
	rx.ch.exports.UnexportByOID(u.OID, nil, false)
	return nil
}

func (rx *recv) HandleChunk(c *proto.Chunk) error {
	rx.ch.lane.Submit(func() { rx.ch.pipeChunk(c) })
	return nil
}

func (rx *recv) HandleFlush(f *proto.Flush) error {
	rx.ch.lane.Submit(func() { rx.ch.pipeFlush(f) })
	return nil
}

func (rx *recv) HandleEOF(e *proto.EOF) error {
	rx.ch.lane.Submit(func() { rx.ch.pipeEOF(e) })
	return nil
}

func (rx *recv) HandleAck(a *proto.Ack) error {
	if w := rx.ch.windows.lookup(a.OID); w != nil {
		w.Increase(a.Size)
	} else {
		rx.ch.warnf("%s: no window", a)
	}
	return nil
}

func (rx *recv) HandleNotifyDead(nd *proto.NotifyDead) error {
	if w := rx.ch.windows.lookup(nd.OID); w != nil {
		w.Dead(remoteErr(nd.Cause))
	} else {
		rx.ch.warnf("%s: no window", nd)
	}
	return nil
}

//
// housekeeping
//

// housekeep logs stuck-pipeline diagnostics while the channel lives
func (ch *Channel) housekeep() time.Duration {
	if ch.Terminated() {
		return hk.UnregInterval
	}
	if last := ch.Cnt.LastHeardAt.LoadNano(); last != 0 {
		if silence := time.Since(ch.Cnt.LastHeardAt.Load()); silence > 2*time.Minute {
			nlog.Warningf("%s: nothing heard for %v [sent %d, received %d]",
				ch, silence, ch.Cnt.CommandsSent.Load(), ch.Cnt.CommandsReceived.Load())
		}
	}
	return hkChannelIval
}

const hkChannelIval = time.Minute

func (ch *Channel) warnf(format string, a ...any) {
	nlog.Warningf(ch.String()+": "+format, a...)
}
