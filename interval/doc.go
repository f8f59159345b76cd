// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*Package interval implements an overlap index over genomic coordinates.
  (Unlike an interval-union, overlapping intervals are tracked separately, so
  every record sharing a position can be recovered.)
  Intervals are left-closed right-open; callers holding closed [start, end]
  coordinates insert [start, end+1).
*/
package interval
