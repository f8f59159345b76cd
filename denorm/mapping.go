// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package denorm

type obj = map[string]interface{}

func template(name, pathMatch, matchType string, mapping obj) obj {
	t := obj{"mapping": mapping}
	if pathMatch == "events" {
		t["match"] = pathMatch
	} else {
		t["path_match"] = pathMatch
	}
	if matchType != "" {
		t["match_mapping_type"] = matchType
	}
	return obj{name: t}
}

// Mapping returns the settings and mappings of a destination index. The
// events field is nested so that each event is matched as a unit. Strings
// are indexed as keywords, and top-level fields are stored.
func Mapping() map[string]interface{} {
	return obj{
		"mappings": obj{
			"dynamic_templates": []interface{}{
				template("overlapping_events", "events", "", obj{"type": "nested"}),
				template("ev_string_values", "events.*", "string", obj{"type": "keyword"}),
				template("ev_long_values", "events.*", "long", obj{"type": "long"}),
				template("ev_double_values", "events.*", "double", obj{"type": "double"}),
				template("string_values", "*", "string", obj{"type": "keyword", "store": true}),
				template("long_values", "*", "long", obj{"type": "long", "store": true}),
				template("double_values", "*", "double", obj{"type": "double", "store": true}),
			},
		},
	}
}
