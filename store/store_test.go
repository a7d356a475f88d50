// Package store is a content-addressed blob store used by remote resource
// loading
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package store_test

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chanlab/remoting/cmn/cos"
	"github.com/chanlab/remoting/store"
)

func openStore(t *testing.T, compress bool) *store.ContentStore {
	t.Helper()
	cs, err := store.New(t.TempDir(), compress)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestWriteOpenRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		cs := openStore(t, compress)
		payload := make([]byte, 600*cos.KiB)
		rand.New(rand.NewSource(1)).Read(payload)

		digest, size, err := cs.Write(bytes.NewReader(payload))
		if err != nil {
			t.Fatal(err)
		}
		if size != int64(len(payload)) {
			t.Fatalf("size %d", size)
		}
		if !cs.Has(digest) {
			t.Fatal("blob not indexed")
		}
		if sz, err := cs.Size(digest); err != nil || sz != size {
			t.Fatalf("%d, %v", sz, err)
		}

		r, err := cs.Open(digest)
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("compress=%v: %d bytes read, want %d", compress, len(got), len(payload))
		}

		// content-addressed: same bytes, same digest
		d2, _, err := cs.Write(bytes.NewReader(payload))
		if err != nil {
			t.Fatal(err)
		}
		if d2 != digest {
			t.Fatalf("digest %s != %s", d2, digest)
		}
	}
}

func TestRelease(t *testing.T) {
	cs := openStore(t, false)
	digest, _, err := cs.Write(strings.NewReader("ephemeral"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cs.Release(digest); err != nil {
		t.Fatal(err)
	}
	if cs.Has(digest) {
		t.Fatal("released blob still indexed")
	}
	if _, err := cs.Open(digest); !cos.IsErrNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	// double release is a no-op
	if err := cs.Release(digest); err != nil {
		t.Fatal(err)
	}
}

// a stale index entry (file removed behind our back) is dropped on reopen
func TestScanReconciles(t *testing.T) {
	dir := t.TempDir()
	cs, err := store.New(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	digest, _, err := cs.Write(strings.NewReader("to be tampered with"))
	if err != nil {
		t.Fatal(err)
	}
	cs.Close()

	// remove the blob file, keep the index
	removed := false
	filepath.Walk(dir, func(fqn string, fi os.FileInfo, _ error) error {
		if fi != nil && !fi.IsDir() && strings.HasSuffix(fqn, ".blob") {
			os.Remove(fqn)
			removed = true
		}
		return nil
	})
	if !removed {
		t.Fatal("no blob file found")
	}

	cs2, err := store.New(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	defer cs2.Close()
	if cs2.Has(digest) {
		t.Fatal("stale index entry survived the scan")
	}
}
