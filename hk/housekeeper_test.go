// Package hk provides mechanism for registering cleanup
// functions which are invoked at specified intervals.
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package hk_test

import (
	"time"

	"github.com/chanlab/remoting/cmn/atomic"
	"github.com/chanlab/remoting/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	It("should invoke a registered callback at its interval", func() {
		fired := atomic.NewInt64(0)
		hk.Reg("fires"+hk.NameSuffix, func() time.Duration {
			fired.Inc()
			return time.Second
		}, time.Second)
		defer hk.Unreg("fires" + hk.NameSuffix)

		Eventually(func() int64 { return fired.Load() }, 5*time.Second).Should(BeNumerically(">=", 1))
	})

	It("should unregister a callback that returns UnregInterval", func() {
		fired := atomic.NewInt64(0)
		hk.Reg("once"+hk.NameSuffix, func() time.Duration {
			fired.Inc()
			return hk.UnregInterval
		}, time.Second)

		Eventually(func() int64 { return fired.Load() }, 5*time.Second).Should(Equal(int64(1)))
		Consistently(func() int64 { return fired.Load() }, 3*time.Second).Should(Equal(int64(1)))
	})

	It("should not invoke an unregistered callback", func() {
		fired := atomic.NewInt64(0)
		hk.Reg("never"+hk.NameSuffix, func() time.Duration {
			fired.Inc()
			return time.Second
		}, 2*time.Second)
		hk.Unreg("never" + hk.NameSuffix)

		Consistently(func() int64 { return fired.Load() }, 3*time.Second).Should(Equal(int64(0)))
	})
})
