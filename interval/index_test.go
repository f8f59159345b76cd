// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func payloads(ivs []*Interval) []string {
	out := make([]string, len(ivs))
	for i, iv := range ivs {
		out[i] = iv.Payload.(string)
	}
	sort.Strings(out)
	return out
}

func TestIndexQuery(t *testing.T) {
	var x Index
	x.Insert(10, 21, "A")
	x.Insert(15, 26, "B")
	x.Insert(30, 41, "C")
	x.Insert(20, 21, "P")
	x.Insert(20, 21, "Q") // same bounds as P
	assert.EQ(t, x.Len(), 5)

	expect.EQ(t, payloads(x.QueryPoint(20)), []string{"A", "B", "P", "Q"})
	expect.EQ(t, payloads(x.QueryPoint(21)), []string{"B"})
	expect.EQ(t, payloads(x.QueryPoint(26)), []string{})
	expect.EQ(t, payloads(x.QueryRange(10, 21)), []string{"A", "B", "P", "Q"})
	expect.EQ(t, payloads(x.QueryRange(26, 30)), []string{})
	expect.EQ(t, payloads(x.QueryRange(25, 31)), []string{"B", "C"})
	expect.EQ(t, len(x.QueryRange(5, 5)), 0)
}

func TestIndexRemove(t *testing.T) {
	var x Index
	a := x.Insert(10, 20, "A")
	x.Insert(10, 20, "A2")
	assert.NoError(t, x.Remove(a))
	expect.EQ(t, x.Len(), 1)
	expect.EQ(t, payloads(x.QueryPoint(12)), []string{"A2"})
}

func TestIndexPointInterval(t *testing.T) {
	var x Index
	iv := x.Insert(7, 7, "p")
	expect.EQ(t, iv.End, 8)
	expect.EQ(t, payloads(x.QueryPoint(7)), []string{"p"})
	expect.EQ(t, len(x.QueryPoint(8)), 0)
}

// TestIndexRandom compares query results with a brute-force scan.
func TestIndexRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	type span struct{ start, end int }
	var (
		x     Index
		spans []span
	)
	for i := 0; i < 500; i++ {
		s := r.Intn(1000)
		sp := span{s, s + 1 + r.Intn(50)}
		spans = append(spans, sp)
		x.Insert(sp.start, sp.end, i)
	}
	for q := 0; q < 200; q++ {
		s := r.Intn(1100)
		e := s + 1 + r.Intn(30)
		want := map[int]bool{}
		for i, sp := range spans {
			if sp.start < e && s < sp.end {
				want[i] = true
			}
		}
		got := x.QueryRange(s, e)
		assert.EQ(t, len(got), len(want), "query [%d, %d)", s, e)
		for _, iv := range got {
			expect.True(t, want[iv.Payload.(int)])
		}
	}
	n := 0
	x.Do(func(*Interval) bool { n++; return false })
	expect.EQ(t, n, 500)
}
