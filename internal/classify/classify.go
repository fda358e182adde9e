// Package classify implements the vendor classifier (spec.md §4.1): a
// pure, deterministic, first-match-wins set of rules over protocol type,
// topic/path, and metadata that assigns a VendorFormat to a Record.
//
// Classification never fails and has no side effects: malformed input
// degrades to VendorGeneric with the reason recorded in
// metadata["classify.degraded"], and classification touches no field
// besides VendorFormat and "classify.*" metadata keys (spec.md §8,
// invariant 6).
package classify

import (
	"regexp"
	"strings"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

var kepwareMQTTTopic = regexp.MustCompile(`^kepware/([^/]+)/([^/]+)/([^/]+)`)

// honeywellSuffixes lists the Honeywell Experion composite-point
// attribute suffixes, with every ".PV..." attribute listed before ".PV"
// itself so ".PVEUHI" is not shadowed by a ".PV" prefix match.
var honeywellSuffixes = []string{".PVEUHI", ".PVEULO", ".PVUNITS", ".PVBAD", ".PV", ".SP", ".OP"}

// sparkplugMessageTypes is the recognized lifecycle message-type segment
// set for spBv1.0 topics.
var sparkplugMessageTypes = map[string]bool{
	"NBIRTH": true, "NDATA": true, "NDEATH": true,
	"DBIRTH": true, "DDATA": true, "DDEATH": true,
}

// Classify assigns VendorFormat by evaluating the rules of spec.md §4.1
// in order; the first matching rule wins. The input record is not
// mutated; the returned record carries the classification result and any
// extracted metadata.
func Classify(r *record.Record) *record.Record {
	if r == nil {
		return nil
	}

	switch r.ProtocolType {
	case record.ProtocolMQTT:
		if out, ok := classifySparkplug(r); ok {
			return out
		}
		if out, ok := classifyKepwareMQTT(r); ok {
			return out
		}
		return degrade(r, record.VendorGeneric, "")

	case record.ProtocolOPCUA:
		if out, ok := classifyKepwareOPCUA(r); ok {
			return out
		}
		if out, ok := classifyHoneywell(r); ok {
			return out
		}
		return degrade(r, record.VendorOPCUA, "")

	case record.ProtocolModbus:
		return degrade(r, record.VendorModbus, "")

	default:
		return degrade(r, record.VendorGeneric, "unrecognized protocol_type")
	}
}

// degrade sets VendorFormat and, when reason is non-empty, records the
// malformed-input reason per spec.md §4.1 "Failure".
func degrade(r *record.Record, vendor record.VendorFormat, reason string) *record.Record {
	out := r.Clone()
	out.VendorFormat = vendor
	if reason != "" {
		out.Metadata["classify.degraded"] = reason
	}
	return out
}

// classifySparkplug implements rule 1: spBv1.0/<group>/<msgType>/<node>[/<device>].
func classifySparkplug(r *record.Record) (*record.Record, bool) {
	if !strings.HasPrefix(r.TopicOrPath, "spBv1.0/") {
		return nil, false
	}
	segments := strings.Split(r.TopicOrPath, "/")
	if len(segments) < 4 {
		return degrade(r, record.VendorGeneric, "malformed sparkplug topic"), true
	}
	group, msgType, edgeNode := segments[1], segments[2], segments[3]
	if !sparkplugMessageTypes[msgType] {
		return degrade(r, record.VendorGeneric, "unrecognized sparkplug message type"), true
	}

	out := r.Clone()
	out.VendorFormat = record.VendorSparkplugB
	out.Metadata["group_id"] = group
	out.Metadata["message_type"] = msgType
	out.Metadata["edge_node_id"] = edgeNode
	if len(segments) > 4 && segments[4] != "" {
		out.Metadata["device_id"] = segments[4]
	}
	return out, true
}

// classifyKepwareMQTT implements rule 2: kepware/<channel>/<device>/<tag>.
func classifyKepwareMQTT(r *record.Record) (*record.Record, bool) {
	m := kepwareMQTTTopic.FindStringSubmatch(r.TopicOrPath)
	if m == nil {
		return nil, false
	}
	out := r.Clone()
	out.VendorFormat = record.VendorKepware
	out.Metadata["kepware.channel"] = m[1]
	out.Metadata["kepware.device"] = m[2]
	out.Metadata["kepware.tag"] = m[3]
	return out, true
}

// classifyKepwareOPCUA implements rule 3: an OPC-UA browse path segment
// whose display name follows Channel.Device.Tag. We recognize this from
// the metadata key "opcua.browse_path" set by the protocol client, since
// browse paths are not carried in TopicOrPath for OPC-UA records (that
// field holds the node identifier, not the human path).
func classifyKepwareOPCUA(r *record.Record) (*record.Record, bool) {
	browsePath, ok := r.Metadata["opcua.browse_path"]
	if !ok {
		return nil, false
	}
	parts := strings.Split(browsePath, ".")
	if len(parts) < 3 {
		return nil, false
	}
	// Heuristic: Kepware channels are exposed as the top three browse
	// segments with no further vendor-specific suffix recognized below.
	out := r.Clone()
	out.VendorFormat = record.VendorKepware
	out.Metadata["kepware.channel"] = parts[0]
	out.Metadata["kepware.device"] = parts[1]
	out.Metadata["kepware.tag"] = strings.Join(parts[2:], ".")
	return out, true
}

// classifyHoneywell implements rule 4: identifier ends in a recognized
// Experion composite-point attribute suffix.
func classifyHoneywell(r *record.Record) (*record.Record, bool) {
	id := r.TopicOrPath
	for _, suffix := range honeywellSuffixes {
		if strings.HasSuffix(id, suffix) {
			out := r.Clone()
			out.VendorFormat = record.VendorHoneywell
			out.Metadata["honeywell.attribute"] = strings.TrimPrefix(suffix, ".")
			out.Metadata["honeywell.point"] = strings.TrimSuffix(id, suffix)
			return out, true
		}
	}
	return nil, false
}
