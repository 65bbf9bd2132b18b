package msc

import "encoding/binary"

// Byte-order helpers for on-wire fields.
//
// CBW and CSW multi-byte fields are little-endian. SCSI CDB fields and
// SCSI response payloads (LBA, transfer length, allocation length, sense
// ASC/ASCQ, READ CAPACITY) are big-endian. Mixing the two up is the single
// easiest mistake in this package, so every access goes through one of
// these functions rather than a direct binary.ByteOrder call.

func getLE16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func getLE32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func putLE16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func putLE32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

func getBE16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func getBE32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

func putBE16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func putBE32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// getBE24 reads a 3-byte big-endian unsigned integer, as used by the
// READ(6)/WRITE(6) LBA field and the capacity-descriptor block-length field.
func getBE24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// putBE24 writes the low 24 bits of v as a 3-byte big-endian integer.
func putBE24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
