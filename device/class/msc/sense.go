package msc

// fixedFormatSense is the 18-byte fixed-format sense record returned by
// REQUEST SENSE. response code is fixed at 0x70; ASC/ASCQ are carried
// on-wire as two separate big-endian bytes, not a packed 16-bit value.
type fixedFormatSense struct {
	key  uint8
	asc  uint8
	ascq uint8
}

const senseResponseCodeFixed = 0x70
const senseAdditionalLength = 10 // spec.md §3: "additional length (10)"

// marshalTo writes the 18-byte fixed-format sense record to buf, which must
// be at least FixedFormatSenseDataLength bytes. Returns the number of bytes
// written.
func (s fixedFormatSense) marshalTo(buf []byte) int {
	for i := range buf[:FixedFormatSenseDataLength] {
		buf[i] = 0
	}
	buf[0] = senseResponseCodeFixed
	buf[2] = s.key & 0x0F
	buf[7] = senseAdditionalLength
	buf[12] = s.asc
	buf[13] = s.ascq
	return FixedFormatSenseDataLength
}
