package ingestpb

import "fmt"

var errChecksumMismatch = fmt.Errorf("ingestpb: checksum mismatch")

func errMalformed(what string) error {
	return fmt.Errorf("ingestpb: malformed %s", what)
}
