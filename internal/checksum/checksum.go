// Package checksum implements the deterministic 32-bit block checksum.
package checksum

import "hash/crc32"

// crcTable is the IEEE polynomial table, the standard CRC-32 variant.
var crcTable = crc32.MakeTable(crc32.IEEE)

// Of returns the CRC-32 (IEEE) checksum of the UTF-8 bytes of text, stored
// as a signed 32-bit value for on-disk compactness. Comparison between two
// checksums is by bit pattern, not numeric ordering.
func Of(text string) int32 {
	sum := crc32.Checksum([]byte(text), crcTable)

	return int32(sum) //nolint:gosec // intentional reinterpretation, not truncation
}
