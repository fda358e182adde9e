package ingestpb

import "math"

func float64Bits(f float64) uint64   { return math.Float64bits(f) }
func fixed64Float(bits uint64) float64 { return math.Float64frombits(bits) }
