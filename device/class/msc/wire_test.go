package msc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCBWBytes() []byte {
	buf := make([]byte, CBWSize)
	putLE32(buf[0:4], CBWSignature)
	putLE32(buf[4:8], 0xDEADBEEF) // tag
	putLE32(buf[8:12], 512)       // data transfer length
	buf[12] = CBWFlagDataIn       // flags
	buf[13] = 0                   // LUN
	buf[14] = 6                   // CB length
	buf[15] = SCSIInquiry
	return buf
}

func TestParseCBWValid(t *testing.T) {
	cbw, ok := parseCBW(validCBWBytes())
	require.True(t, ok)
	assert.Equal(t, uint32(0xDEADBEEF), cbw.tag)
	assert.Equal(t, uint32(512), cbw.dataTransferLength)
	assert.True(t, cbw.isDataIn())
	assert.Equal(t, uint8(0), cbw.lun)
	assert.Equal(t, uint8(6), cbw.cbLength)
	assert.Equal(t, uint8(SCSIInquiry), cbw.cb[0])
	assert.True(t, cbw.valid())
}

func TestParseCBWTooShort(t *testing.T) {
	_, ok := parseCBW(make([]byte, CBWSize-1))
	assert.False(t, ok)
}

func TestParseCBWBadSignature(t *testing.T) {
	buf := validCBWBytes()
	putLE32(buf[0:4], 0x12345678)
	_, ok := parseCBW(buf)
	assert.False(t, ok)
}

func TestParseCBWDataOutFlag(t *testing.T) {
	buf := validCBWBytes()
	buf[12] = CBWFlagDataOut
	cbw, ok := parseCBW(buf)
	require.True(t, ok)
	assert.False(t, cbw.isDataIn())
}

func TestParseCBWMasksReservedLUNBits(t *testing.T) {
	buf := validCBWBytes()
	buf[13] = 0xF0 | 0x03 // reserved high nibble set, LUN 3 in low nibble
	cbw, ok := parseCBW(buf)
	require.True(t, ok)
	assert.Equal(t, uint8(3), cbw.lun)
}

func TestCBWValidRejectsOutOfRangeLUN(t *testing.T) {
	cbw := commandBlockWrapper{lun: MaxLUN + 1, cbLength: 6}
	assert.False(t, cbw.valid())
}

func TestCBWValidRejectsZeroCBLength(t *testing.T) {
	cbw := commandBlockWrapper{lun: 0, cbLength: 0}
	assert.False(t, cbw.valid())
}

func TestCSWMarshalTo(t *testing.T) {
	csw := newCSW(0xCAFEBABE, 7, CSWStatusFailed)
	buf := make([]byte, CSWSize)
	n := csw.marshalTo(buf)

	assert.Equal(t, CSWSize, n)
	assert.Equal(t, uint32(CSWSignature), getLE32(buf[0:4]))
	assert.Equal(t, uint32(0xCAFEBABE), getLE32(buf[4:8]))
	assert.Equal(t, uint32(7), getLE32(buf[8:12]))
	assert.Equal(t, uint8(CSWStatusFailed), buf[12])
}
