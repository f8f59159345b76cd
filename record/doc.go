// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*Package record defines the genomic record shape shared by the loader, the
  search backends and the denormalizer, along with chromosome label
  normalization and the closed set of field value kinds used when loading
  tabular input.
*/
package record
