// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package record

import (
	"strconv"
	"strings"
)

// ChromLabels lists the chromosome labels the denormalizer visits, in order.
// Lower-case sex chromosomes and NONE are kept for data loaded before
// normalization was enforced.
var ChromLabels = func() []string {
	labels := make([]string, 0, 27)
	for i := 1; i <= 22; i++ {
		labels = append(labels, NormalizeChrom(strconv.Itoa(i)))
	}
	return append(labels, "X", "x", "Y", "y", "NONE")
}()

// NormalizeChrom formats a chromosome label: 23 and 24 become X and Y,
// other one- or two-digit numbers are zero-padded to two digits, and
// everything else is upper-cased. NormalizeChrom(NormalizeChrom(s)) ==
// NormalizeChrom(s).
func NormalizeChrom(s string) string {
	switch s {
	case "23":
		return "X"
	case "24":
		return "Y"
	}
	if n := len(s); n >= 1 && n <= 2 && isDigits(s) {
		if n == 1 {
			return "0" + s
		}
		return s
	}
	return strings.ToUpper(s)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
