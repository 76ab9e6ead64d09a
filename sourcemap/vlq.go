// Copyright 2025 The Covnorm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sourcemap

import (
	"fmt"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Values [128]int8

func init() {
	for i := range base64Values {
		base64Values[i] = -1
	}
	for i, c := range base64Chars {
		base64Values[c] = int8(i)
	}
}

const (
	vlqBaseShift       = 5
	vlqBaseMask        = (1 << vlqBaseShift) - 1
	vlqContinuationBit = 1 << vlqBaseShift
)

// decodeVLQ decodes one base64 VLQ value from s starting at pos, returning
// the value and the position of the next undecoded byte. The low bit of the
// decoded quantity carries the sign.
func decodeVLQ(s string, pos int) (value, next int, err error) {
	shift := uint(0)
	for {
		if pos >= len(s) {
			return 0, 0, fmt.Errorf("truncated VLQ sequence")
		}
		c := s[pos]
		if c >= 128 || base64Values[c] < 0 {
			return 0, 0, fmt.Errorf("invalid VLQ character %q", c)
		}
		digit := int(base64Values[c])
		pos++
		value |= (digit & vlqBaseMask) << shift
		if digit&vlqContinuationBit == 0 {
			break
		}
		shift += vlqBaseShift
	}
	if value&1 != 0 {
		value = -(value >> 1)
	} else {
		value >>= 1
	}
	return value, pos, nil
}
