// Package isa95 implements the ISA-95 normalizer (spec.md §4.2): it
// fills a Record's ISA95 hierarchy from, in priority order, explicit
// source-config hints and then structural extraction keyed off the
// record's already-assigned VendorFormat. Normalization is pure; missing
// fields are left empty rather than guessed.
package isa95

import (
	"strings"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

// Hints are the explicit ISA-95 overrides attached to a source's
// configuration (spec.md §3, Source entity "optional ISA-95 hierarchy
// hints").
type Hints struct {
	Enterprise string
	Site       string
	Area       string
	Line       string
	Equipment  string
}

// ThingRegistry resolves optional semantic enrichment (thing_id,
// semantic_type, unit_uri) by topic/path. A cache miss is never an
// error; Lookup returning ok=false simply leaves those fields empty.
type ThingRegistry interface {
	Lookup(topicOrPath string) (thingID, semanticType, unitURI string, ok bool)
}

// Normalize fills r.ISA95 (and, if registry is non-nil, the optional
// semantic fields) without mutating r.
func Normalize(r *record.Record, hints Hints, registry ThingRegistry) *record.Record {
	if r == nil {
		return nil
	}
	out := r.Clone()
	out.ISA95 = mergeHints(out.ISA95, hints)

	switch out.VendorFormat {
	case record.VendorKepware:
		fillFromKepware(out)
	case record.VendorSparkplugB:
		fillFromSparkplug(out)
	case record.VendorHoneywell:
		fillFromHoneywell(out)
	// opcua, modbus, generic: fall back to hints only, nothing further to derive.
	}

	if registry != nil {
		if thingID, semType, unitURI, ok := registry.Lookup(out.TopicOrPath); ok {
			if thingID != "" {
				out.ThingID = &thingID
			}
			if semType != "" {
				out.SemanticType = &semType
			}
			if unitURI != "" {
				out.UnitURI = &unitURI
			}
		}
	}

	return out
}

// mergeHints applies explicit hints over whatever ISA95 value the
// record already carries, hints always winning per spec.md's priority
// order (explicit hints first, then structural extraction).
func mergeHints(base record.ISA95, h Hints) record.ISA95 {
	if h.Enterprise != "" {
		base.Enterprise = h.Enterprise
	}
	if h.Site != "" {
		base.Site = h.Site
	}
	if h.Area != "" {
		base.Area = h.Area
	}
	if h.Line != "" {
		base.Line = h.Line
	}
	if h.Equipment != "" {
		base.Equipment = h.Equipment
	}
	return base
}

func fillFromKepware(r *record.Record) {
	if r.ISA95.Area == "" {
		r.ISA95.Area = r.Metadata["kepware.channel"]
	}
	if r.ISA95.Line == "" {
		r.ISA95.Line = r.Metadata["kepware.device"]
	}
	if r.ISA95.Equipment == "" {
		r.ISA95.Equipment = r.Metadata["kepware.tag"]
	}
}

func fillFromSparkplug(r *record.Record) {
	if r.ISA95.Area == "" {
		r.ISA95.Area = r.Metadata["group_id"]
	}
	if r.ISA95.Line == "" {
		r.ISA95.Line = r.Metadata["edge_node_id"]
	}
	if r.ISA95.Equipment != "" {
		return
	}
	switch r.Metadata["message_type"] {
	case "DBIRTH", "DDATA", "DDEATH":
		r.ISA95.Equipment = r.Metadata["device_id"]
	default:
		r.ISA95.Equipment = r.Metadata["edge_node_id"]
	}
}

// fillFromHoneywell derives the module from the point's path prefix
// segment (e.g. "FIM_01" from "FIM_01.ReactorTemp") and maps
// module -> line, point -> equipment per spec.md §4.2.
func fillFromHoneywell(r *record.Record) {
	point := r.Metadata["honeywell.point"]
	module := point
	if idx := strings.Index(point, "."); idx >= 0 {
		module = point[:idx]
	}
	if r.ISA95.Line == "" {
		r.ISA95.Line = module
	}
	if r.ISA95.Equipment == "" {
		r.ISA95.Equipment = point
	}
}
