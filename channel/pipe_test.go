// Package channel implements one endpoint of a symmetric, full-duplex
// remoting session
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package channel_test

import (
	"bytes"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/chanlab/remoting/channel"
	"github.com/chanlab/remoting/cmn"
	"github.com/chanlab/remoting/cmn/cos"
	"github.com/chanlab/remoting/proto"
	"golang.org/x/sync/errgroup"
)

// unackedWatch tracks the in-flight (sent minus acked) pipe bytes observed
// on the wire, from the writer's side
type unackedWatch struct {
	mu       sync.Mutex
	inFlight int64
	high     int64
}

func (uw *unackedWatch) OnClosed(*channel.Channel, error) {}

func (uw *unackedWatch) OnWrite(_ *channel.Channel, cmd proto.Command, _ int) {
	if c, ok := cmd.(*proto.Chunk); ok {
		uw.mu.Lock()
		uw.inFlight += int64(len(c.Data))
		if uw.inFlight > uw.high {
			uw.high = uw.inFlight
		}
		uw.mu.Unlock()
	}
}

func (uw *unackedWatch) OnRead(_ *channel.Channel, cmd proto.Command, _ int) {
	if a, ok := cmd.(*proto.Ack); ok {
		uw.mu.Lock()
		uw.inFlight -= a.Size
		uw.mu.Unlock()
	}
}

func (uw *unackedWatch) highWater() int64 {
	uw.mu.Lock()
	defer uw.mu.Unlock()
	return uw.high
}

// slowReader throttles the consuming side
type slowReader struct {
	r     io.Reader
	delay time.Duration
}

func (sr *slowReader) Read(b []byte) (int, error) {
	time.Sleep(sr.delay)
	if len(b) > 64*cos.KiB {
		b = b[:64*cos.KiB]
	}
	return sr.r.Read(b)
}

func TestPipeFlowControl(t *testing.T) {
	const total = 4 * cos.MiB
	cfg := cmn.DefaultConfig()
	cfg.Window.Max = 256 * cos.KiB

	a, b := pair(t, channel.Options{Config: cfg})
	uw := &unackedWatch{}
	a.AddListener(uw)

	pr, ref := b.NewInputPipe()
	b.SetProperty("sink", ref)
	v, err := a.WaitForRemoteProperty("sink")
	if err != nil {
		t.Fatal(err)
	}
	rw := a.NewRemoteWriter(refOf(t, v))

	random := rand.New(rand.NewSource(42))
	payload := make([]byte, total)
	random.Read(payload)

	var (
		g   errgroup.Group
		got bytes.Buffer
	)
	g.Go(func() error {
		// the consumer throttles; backpressure must hold the writer back
		_, err := io.Copy(&got, &slowReader{r: pr, delay: time.Millisecond})
		return err
	})
	g.Go(func() error {
		if _, err := rw.Write(payload); err != nil {
			return err
		}
		return rw.Close()
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("received %d bytes, want %d (corrupted stream)", got.Len(), total)
	}
	if hw := uw.highWater(); hw > cfg.Window.Max {
		t.Fatalf("in-flight unacked bytes peaked at %d, window max %d", hw, cfg.Window.Max)
	}
}

func refOf(t *testing.T, v any) *proto.Ref {
	t.Helper()
	// a pipe ref arriving at the writer side resolves to a proxy handle;
	// recover the underlying ref coordinates
	h, ok := v.(*channel.Handle)
	if !ok {
		t.Fatalf("expected handle, got %T", v)
	}
	return &proto.Ref{Token: "peer", OID: h.OID(), Selectors: h.Selectors()}
}

// a write of exactly the window size goes out as a single chunk
func TestPipeNoFragmentation(t *testing.T) {
	cfg := cmn.DefaultConfig()
	cfg.Window.Max = 128 * cos.KiB

	a, b := pair(t, channel.Options{Config: cfg})

	var chunks []int
	var mu sync.Mutex
	watch := chunkSizes(&mu, &chunks)
	a.AddListener(watch)

	pr, ref := b.NewInputPipe()
	b.SetProperty("sink", ref)
	v, err := a.WaitForRemoteProperty("sink")
	if err != nil {
		t.Fatal(err)
	}
	rw := a.NewRemoteWriter(refOf(t, v))

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(io.Discard, pr)
		return err
	})
	payload := make([]byte, cfg.Window.Max)
	if _, err := rw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(chunks) != 1 || chunks[0] != int(cfg.Window.Max) {
		t.Fatalf("chunks %v, want a single %d-byte chunk", chunks, cfg.Window.Max)
	}
}

type chunkWatch struct {
	mu     *sync.Mutex
	chunks *[]int
}

func chunkSizes(mu *sync.Mutex, chunks *[]int) *chunkWatch { return &chunkWatch{mu, chunks} }

func (*chunkWatch) OnClosed(*channel.Channel, error) {}
func (*chunkWatch) OnRead(*channel.Channel, proto.Command, int) {}
func (cw *chunkWatch) OnWrite(_ *channel.Channel, cmd proto.Command, _ int) {
	if c, ok := cmd.(*proto.Chunk); ok {
		cw.mu.Lock()
		*cw.chunks = append(*cw.chunks, len(c.Data))
		cw.mu.Unlock()
	}
}

// a chunk for a just-unexported stream is dropped with a warning; the
// channel survives
func TestPipeChunkAfterUnexport(t *testing.T) {
	a, b := pair(t, channel.Options{})
	pr, ref := b.NewInputPipe()
	b.SetProperty("sink", ref)
	v, err := a.WaitForRemoteProperty("sink")
	if err != nil {
		t.Fatal(err)
	}
	rw := a.NewRemoteWriter(refOf(t, v))

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(io.Discard, pr)
		return err
	})
	if _, err := rw.Write([]byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil { // EOF removes the export entry on b
		t.Fatal(err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	// a second writer over the stale oid: its chunks must be dropped
	// without terminating the channel
	stale := a.NewRemoteWriter(&proto.Ref{Token: "peer", OID: refOf(t, v).OID, Selectors: []string{channel.SelWrite}})
	if _, err := stale.Write([]byte("ghost")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if a.Terminated() || b.Terminated() {
		t.Fatal("channel must survive a chunk for a missing oid")
	}
	// and the channel still works
	if _, err := a.GetRemoteProperty("sink"); err != nil {
		t.Fatal(err)
	}
}

// an orderly close right after pipe writes: the bytes beat the Close
func TestCloseAfterPipeWrites(t *testing.T) {
	a, b := pair(t, channel.Options{})
	pr, ref := b.NewInputPipe()
	b.SetProperty("sink", ref)
	v, err := a.WaitForRemoteProperty("sink")
	if err != nil {
		t.Fatal(err)
	}
	rw := a.NewRemoteWriter(refOf(t, v))

	payload := make([]byte, 64*cos.KiB)
	rand.New(rand.NewSource(7)).Read(payload)

	var (
		g   errgroup.Group
		got bytes.Buffer
	)
	g.Go(func() error {
		_, err := io.Copy(&got, pr)
		return err
	})
	if _, err := rw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(nil); err != nil {
		t.Fatal(err)
	}
	if !b.Join(5 * time.Second) {
		t.Fatal("b did not terminate")
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("received %d bytes, want %d", got.Len(), len(payload))
	}
}

// dead window: when the consumer fails, the writer's next Get fails
func TestPipeNotifyDead(t *testing.T) {
	a, b := pair(t, channel.Options{})
	ref := b.ExportWriter(&failingWriter{})
	b.SetProperty("sink", ref)
	v, err := a.WaitForRemoteProperty("sink")
	if err != nil {
		t.Fatal(err)
	}
	rw := a.NewRemoteWriter(refOf(t, v))

	deadline := time.After(5 * time.Second)
	for {
		if _, err := rw.Write(bytes.Repeat([]byte("x"), 1024)); err != nil {
			return // window poisoned, as expected
		}
		select {
		case <-deadline:
			t.Fatal("window never died")
		default:
		}
	}
}

type failingWriter struct{}

func (*failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
