// Package cos provides common low-level types and utilities for the remoting engine
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package cos_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestCos(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
