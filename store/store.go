// Package store is a content-addressed blob store used by remote resource
// loading: blobs are keyed by content digest, indexed for metadata, and
// swept for orphans in the background
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chanlab/remoting/cmn/cos"
	"github.com/chanlab/remoting/cmn/nlog"
	"github.com/chanlab/remoting/hk"
	"github.com/OneOfOne/xxhash"
	"github.com/karrick/godirwalk"
	"github.com/pierrec/lz4/v3"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
	jsoniter "github.com/json-iterator/go"
)

const (
	blobExt   = ".blob"
	indexName = ".index.db"

	dirPerm  = 0o755
	filePerm = 0o644

	hkSweepIval = 10 * time.Minute

	// refuse writes when the volume is nearly full
	minFreeBytes = 256 * cos.MiB
)

type (
	// Digest names a blob by content (xxhash64, hex)
	Digest string

	meta struct {
		Size    int64 `json:"size"`
		AddedAt int64 `json:"added"`
	}

	// ContentStore is safe for concurrent use; Write is idempotent per
	// content (same bytes, same digest, one blob)
	ContentStore struct {
		dir      string
		db       *buntdb.DB
		hkName   string
		compress bool
	}
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func New(dir string, compress bool) (*ContentStore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, errors.Wrap(err, "content store")
	}
	db, err := buntdb.Open(filepath.Join(dir, indexName))
	if err != nil {
		return nil, errors.Wrap(err, "content store index")
	}
	cs := &ContentStore{dir: dir, db: db, compress: compress}
	if err := cs.scan(); err != nil {
		db.Close()
		return nil, err
	}
	cs.hkName = "store-" + cos.HashB64(dir) + hk.NameSuffix
	hk.Reg(cs.hkName, cs.sweep, hkSweepIval)
	return cs, nil
}

func (cs *ContentStore) Close() error {
	hk.Unreg(cs.hkName)
	return cs.db.Close()
}

// Write stores the content of r, returning its digest and (uncompressed) size
func (cs *ContentStore) Write(r io.Reader) (Digest, int64, error) {
	if err := checkFree(cs.dir, minFreeBytes); err != nil {
		return "", 0, err
	}
	tmp, err := os.CreateTemp(cs.dir, ".put-*")
	if err != nil {
		return "", 0, errors.Wrap(err, "content store put")
	}
	var (
		h    = xxhash.New64()
		w    io.Writer = tmp
		zw   *lz4.Writer
		size int64
	)
	if cs.compress {
		zw = lz4.NewWriter(tmp)
		w = zw
	}
	size, err = io.Copy(io.MultiWriter(w, h), r)
	if err == nil && zw != nil {
		err = zw.Close()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, errors.Wrap(err, "content store put")
	}
	digest := Digest(fmt.Sprintf("%016x", h.Sum64()))
	fqn := cs.fqn(digest)
	if err := os.MkdirAll(filepath.Dir(fqn), dirPerm); err != nil {
		os.Remove(tmp.Name())
		return "", 0, errors.Wrap(err, "content store put")
	}
	if err := os.Rename(tmp.Name(), fqn); err != nil {
		os.Remove(tmp.Name())
		return "", 0, errors.Wrap(err, "content store put")
	}
	b, _ := json.Marshal(meta{Size: size, AddedAt: time.Now().UnixNano()})
	err = cs.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(string(digest), string(b), nil)
		return err
	})
	return digest, size, errors.Wrap(err, "content store index")
}

// Open returns a reader over the (decompressed) blob
func (cs *ContentStore) Open(d Digest) (io.ReadCloser, error) {
	if !cs.Has(d) {
		return nil, cos.NewErrNotFound("blob %s", d)
	}
	f, err := os.Open(cs.fqn(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cos.NewErrNotFound("blob %s", d)
		}
		return nil, errors.Wrap(err, "content store open")
	}
	if !cs.compress {
		return f, nil
	}
	return &zreader{f: f, zr: lz4.NewReader(f)}, nil
}

func (cs *ContentStore) Has(d Digest) bool {
	err := cs.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(string(d))
		return err
	})
	return err == nil
}

// Size returns the uncompressed size recorded at write time
func (cs *ContentStore) Size(d Digest) (size int64, err error) {
	err = cs.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(string(d))
		if err != nil {
			return err
		}
		var m meta
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return err
		}
		size = m.Size
		return nil
	})
	if err == buntdb.ErrNotFound {
		err = cos.NewErrNotFound("blob %s", d)
	}
	return
}

// Release removes the blob and its index entry
func (cs *ContentStore) Release(d Digest) error {
	err := cs.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(string(d))
		return err
	})
	if err != nil && err != buntdb.ErrNotFound {
		return errors.Wrap(err, "content store release")
	}
	if err := os.Remove(cs.fqn(d)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "content store release")
	}
	return nil
}

func (cs *ContentStore) fqn(d Digest) string {
	s := string(d)
	return filepath.Join(cs.dir, s[:2], s+blobExt)
}

// scan reconciles the index with the directory at startup: indexed blobs
// with no file are dropped from the index
func (cs *ContentStore) scan() error {
	var stale []string
	err := cs.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("*", func(k, _ string) bool {
			if _, err := os.Stat(cs.fqn(Digest(k))); err != nil {
				stale = append(stale, k)
			}
			return true
		})
	})
	if err != nil {
		return errors.Wrap(err, "content store scan")
	}
	if len(stale) == 0 {
		return nil
	}
	nlog.Warningf("content store %s: dropping %d stale index entr%s", cs.dir, len(stale), iesOrY(len(stale)))
	return cs.db.Update(func(tx *buntdb.Tx) error {
		for _, k := range stale {
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

// sweep removes blob files that have no index entry (orphans from crashed
// writes or external tampering)
func (cs *ContentStore) sweep() time.Duration {
	var orphans []string
	err := godirwalk.Walk(cs.dir, &godirwalk.Options{
		Callback: func(fqn string, de *godirwalk.Dirent) error {
			if de.IsDir() || !strings.HasSuffix(fqn, blobExt) {
				return nil
			}
			d := Digest(strings.TrimSuffix(filepath.Base(fqn), blobExt))
			if !cs.Has(d) {
				orphans = append(orphans, fqn)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		nlog.Warningf("content store %s: sweep failed: %v", cs.dir, err)
		return hkSweepIval
	}
	for _, fqn := range orphans {
		if err := os.Remove(fqn); err != nil && !os.IsNotExist(err) {
			nlog.Warningf("content store %s: failed to remove orphan %s: %v", cs.dir, fqn, err)
		}
	}
	if len(orphans) > 0 {
		nlog.Infof("content store %s: swept %d orphan%s", cs.dir, len(orphans), cos.Plural(len(orphans)))
	}
	return hkSweepIval
}

type zreader struct {
	f  *os.File
	zr *lz4.Reader
}

func (z *zreader) Read(b []byte) (int, error) { return z.zr.Read(b) }
func (z *zreader) Close() error { return z.f.Close() }

func iesOrY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
