// Package cos provides common low-level types and utilities for the remoting engine
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package cos

import (
	"strconv"
	"sync"

	"github.com/chanlab/remoting/cmn/atomic"
	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

const (
	// Alphabet for generating UUIDs similar to the shortid.DEFAULT_ABC
	// NOTE: len(uuidABC) > 0x3f - see GenTie()
	uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

	LenShortID = 9 // UUID length, as per https://github.com/teris-io/shortid#id-length

	// see xxhash.Checksum64S usage below
	mlcg32 = 1103515245
)

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32

	onceSid sync.Once
)

func InitShortID(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
}

//
// channel tokens
//

// GenToken generates a locally unique channel token. Tokens name the
// originating endpoint of exported-object references; a proxy that travels
// back to its origin is recognized by token match.
func GenToken() (token string) {
	onceSid.Do(func() {
		if sid == nil {
			InitShortID(uint64(rtie.Add(1)))
		}
	})
	token = sid.MustGenerate()
	if !isAlpha(token[0]) {
		tie := int(rtie.Add(1))
		token = string(rune('A'+tie%26)) + token
	}
	return
}

func IsValidToken(token string) bool {
	return len(token) >= LenShortID && isAlphaPlus(token)
}

// HashB64 collapses a name into a short base-36 digest
func HashB64(name string) string {
	digest := xxhash.Checksum64S(UnsafeB(name), mlcg32)
	return strconv.FormatUint(digest, 36)
}

// 3-letter tie breaker (fast)
func GenTie() string {
	tie := rtie.Add(1)
	b0 := uuidABC[tie&0x3f]
	b1 := uuidABC[-tie&0x3f]
	b2 := uuidABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}

//
// utility functions
//

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isAlphaPlus(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}
