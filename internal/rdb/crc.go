package rdb

import "hash/crc64"

// crcPoly is the exact polynomial spec.md §6 mandates: 0x95ac9329ac4bc9b5,
// ECMA-182 reflected form. It is not one of Go's two predefined crc64
// tables (ISO, ECMA), so it must be built explicitly. hash/crc64.MakeTable
// accepts an arbitrary polynomial, which is why this stays on the standard
// library rather than pulling in a third-party CRC64 implementation — see
// DESIGN.md for the full justification.
const crcPoly = 0x95ac9329ac4bc9b5

var crcTable = crc64.MakeTable(crcPoly)

func checksum(b []byte) uint64 {
	return crc64.Checksum(b, crcTable)
}
