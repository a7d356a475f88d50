// Package cos provides common low-level types and utilities for the remoting engine
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package cos_test

import (
	"github.com/chanlab/remoting/cmn/cos"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Tokens", func() {
	It("should generate distinct valid tokens", func() {
		seen := make(map[string]struct{}, 1000)
		for i := 0; i < 1000; i++ {
			token := cos.GenToken()
			Expect(cos.IsValidToken(token)).To(BeTrue(), token)
			_, dup := seen[token]
			Expect(dup).To(BeFalse(), token)
			seen[token] = struct{}{}
		}
	})

	It("should generate 3-letter ties", func() {
		a, b := cos.GenTie(), cos.GenTie()
		Expect(a).To(HaveLen(3))
		Expect(b).To(HaveLen(3))
		Expect(a).NotTo(Equal(b))
	})

	It("should hash names to short stable digests", func() {
		d1 := cos.HashB64("some/dir")
		d2 := cos.HashB64("some/dir")
		d3 := cos.HashB64("other/dir")
		Expect(d1).To(Equal(d2))
		Expect(d1).NotTo(Equal(d3))
	})
})

var _ = Describe("Errs", func() {
	It("should deduplicate and bound the collection", func() {
		var errs cos.Errs
		for i := 0; i < 10; i++ {
			errs.Add(cos.NewErrNotFound("thing"))
		}
		Expect(errs.Cnt()).To(Equal(1))

		cnt, err := errs.JoinErr()
		Expect(cnt).To(Equal(1))
		Expect(err).To(HaveOccurred())
	})
})
