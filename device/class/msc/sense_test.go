package msc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedFormatSenseMarshalTo(t *testing.T) {
	s := fixedFormatSense{key: SenseIllegalRequest, asc: ASCInvalidFieldInCDB, ascq: ASCQInvalidFieldInCDB}
	buf := make([]byte, FixedFormatSenseDataLength)

	n := s.marshalTo(buf)

	assert.Equal(t, FixedFormatSenseDataLength, n)
	assert.Equal(t, uint8(0x70), buf[0], "response code must be fixed-format current errors")
	assert.Equal(t, uint8(SenseIllegalRequest), buf[2]&0x0F)
	assert.Equal(t, uint8(senseAdditionalLength), buf[7])
	assert.Equal(t, uint8(ASCInvalidFieldInCDB), buf[12])
	assert.Equal(t, uint8(ASCQInvalidFieldInCDB), buf[13])
}

func TestFixedFormatSenseMasksKeyNibble(t *testing.T) {
	s := fixedFormatSense{key: 0xFF, asc: 0, ascq: 0}
	buf := make([]byte, FixedFormatSenseDataLength)
	s.marshalTo(buf)
	assert.Equal(t, uint8(0x0F), buf[2], "sense key occupies only the low nibble of byte 2")
}

func TestFixedFormatSenseZeroesReservedBytes(t *testing.T) {
	buf := make([]byte, FixedFormatSenseDataLength)
	for i := range buf {
		buf[i] = 0xFF
	}

	s := fixedFormatSense{key: SenseNoSense, asc: ASCNoAdditionalInfo, ascq: ASCQNoAdditionalInfo}
	s.marshalTo(buf)

	assert.Equal(t, uint8(0), buf[1], "byte 1 is reserved and must be cleared")
	assert.Equal(t, uint8(0), buf[3])
}
