// Package store is a content-addressed blob store used by remote resource
// loading
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package store

import (
	"fmt"

	"github.com/chanlab/remoting/cmn/cos"
	"golang.org/x/sys/unix"
)

// checkFree fails the write when the backing volume is nearly full
func checkFree(dir string, minFree int64) error {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return nil // stat failure is not a reason to refuse the write
	}
	free := int64(st.Bavail) * st.Bsize
	if free < minFree {
		return fmt.Errorf("content store %s: low on space (%s free)", dir, cos.ToSizeIEC(free, 1))
	}
	return nil
}
