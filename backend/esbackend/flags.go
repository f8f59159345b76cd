// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package esbackend

import "flag"

// RegisterFlags binds the connection options to flags of fs, using the
// current values of o as defaults.
func (o *Opts) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.Host, "host", o.Host, "Elasticsearch host")
	fs.IntVar(&o.Port, "port", o.Port, "Elasticsearch port")
	fs.BoolVar(&o.UseSSL, "use-ssl", o.UseSSL, "Connect over HTTPS")
	fs.StringVar(&o.Username, "username", o.Username, "Elasticsearch user name")
	fs.StringVar(&o.Password, "password", o.Password, "Elasticsearch password")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "Timeout of every Elasticsearch request")
	fs.IntVar(&o.ScrollSize, "scroll-size", o.ScrollSize, "Number of documents fetched per scroll page")
}
