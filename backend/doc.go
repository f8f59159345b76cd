// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*Package backend defines the document search service capabilities used by
  the loader and the denormalizer: paginated scans, sorted searches, min/max
  aggregations, counts and bulk indexing, plus index administration.

  Memory is a complete in-process implementation; backend/esbackend talks
  to Elasticsearch. BatchWriter buffers bulk writes under a document count
  and byte budget.
*/
package backend
