package format

import "hash/crc32"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32-C of b.
func Checksum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

func crcUpdate(sum uint32, b []byte) uint32 {
	return crc32.Update(sum, castagnoli, b)
}
