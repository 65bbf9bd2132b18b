package msc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTarget(t *testing.T, blockCount uint32) *target {
	t.Helper()
	tg := newTarget(NewMemoryStorage(blockCount), "ardnew", "Test Disk", "1.0")
	require.NoError(t, tg.init())
	return tg
}

// clearSense drives a REQUEST SENSE through begin() to clear the initial
// UNIT ATTENTION latch every fresh target starts with.
func clearSense(t *testing.T, tg *target) {
	t.Helper()
	cb := make([]byte, 16)
	cb[0] = SCSIRequestSense
	cb[4] = FixedFormatSenseDataLength
	n := tg.begin(cb, 6)
	require.GreaterOrEqual(t, n, int64(0))
	_, err := tg.dataOut(int(n))
	require.NoError(t, err)
}

func TestBeginRejectsZeroCBLength(t *testing.T) {
	tg := newTestTarget(t, 16)
	n := tg.begin(make([]byte, 16), 0)
	assert.Equal(t, int64(-1), n)
	assert.Equal(t, uint8(SenseHardwareError), tg.sense.key)
}

func TestBeginRejectsInvalidCDBLength(t *testing.T) {
	tg := newTestTarget(t, 16)
	cb := make([]byte, 16)
	cb[0] = SCSIInquiry
	n := tg.begin(cb, 5) // INQUIRY requires 6 (or the 12-byte exception)
	assert.Equal(t, int64(-1), n)
	assert.Equal(t, uint8(SenseIllegalRequest), tg.sense.key)
	assert.Equal(t, uint8(ASCInvalidCommand), tg.sense.asc)
}

func TestBeginGatesUninitializedTarget(t *testing.T) {
	tg := newTarget(NewMemoryStorage(16), "ardnew", "Test Disk", "1.0")
	cb := make([]byte, 16)
	cb[0] = SCSIRead10
	n := tg.begin(cb, 10)
	assert.Equal(t, int64(-1), n)
	assert.Equal(t, uint8(SenseIllegalRequest), tg.sense.key)
	assert.Equal(t, uint8(ASCLUNNotReady), tg.sense.asc)
}

func TestBeginAllowsInquiryBeforeInit(t *testing.T) {
	tg := newTarget(NewMemoryStorage(16), "ardnew", "Test Disk", "1.0")
	cb := make([]byte, 16)
	cb[0] = SCSIInquiry
	putBE16(cb[3:5], InquiryStandardSize)
	n := tg.begin(cb, 6)
	assert.Equal(t, int64(InquiryStandardSize), n)
}

func TestBeginRejectsUnknownOpcode(t *testing.T) {
	tg := newTestTarget(t, 16)
	cb := make([]byte, 16)
	cb[0] = 0x1C // RECEIVE DIAGNOSTIC RESULTS: valid 6-byte CDB, not in the dispatch table
	n := tg.begin(cb, 6)
	assert.Equal(t, int64(-1), n)
	assert.Equal(t, uint8(SenseIllegalRequest), tg.sense.key)
	assert.Equal(t, uint8(ASCInvalidCommand), tg.sense.asc)
}

func TestTestUnitReadyLatchesUntilSenseCleared(t *testing.T) {
	tg := newTestTarget(t, 16)
	cb := make([]byte, 16)
	cb[0] = SCSITestUnitReady

	// Fresh target carries a UNIT ATTENTION until cleared by REQUEST SENSE.
	n := tg.begin(cb, 6)
	assert.Equal(t, int64(-1), n)

	clearSense(t, tg)

	n = tg.begin(cb, 6)
	assert.Equal(t, int64(0), n)
}

func TestRequestSenseClearsLatchAndReportsLength(t *testing.T) {
	tg := newTestTarget(t, 16)
	cb := make([]byte, 16)
	cb[0] = SCSIRequestSense
	cb[4] = FixedFormatSenseDataLength

	n := tg.begin(cb, 6)
	require.Equal(t, int64(FixedFormatSenseDataLength), n)

	data, err := tg.dataOut(FixedFormatSenseDataLength)
	require.NoError(t, err)
	assert.Equal(t, uint8(SenseUnitAttention), data[2]&0x0F)

	assert.Equal(t, uint8(SenseNoSense), tg.sense.key, "REQUEST SENSE clears the latch it reports")
}

func TestRequestSenseRejectsDescriptorFormat(t *testing.T) {
	tg := newTestTarget(t, 16)
	cb := make([]byte, 16)
	cb[0] = SCSIRequestSense
	cb[1] = 0x01 // DESC bit set; this target only speaks fixed format

	n := tg.begin(cb, 6)
	assert.Equal(t, int64(-1), n)
	assert.Equal(t, uint8(ASCInvalidFieldInCDB), tg.sense.asc)
}

func TestFormatUnitAlwaysFails(t *testing.T) {
	tg := newTestTarget(t, 16)
	clearSense(t, tg)

	cb := make([]byte, 16)
	cb[0] = SCSIFormatUnit
	n := tg.begin(cb, 6)

	assert.Equal(t, int64(-1), n)
	assert.Equal(t, uint8(SenseMediumError), tg.sense.key)
	assert.Equal(t, uint8(ASCFormatCommandFailed), tg.sense.asc)
}

func TestRead6ZeroCountMeans256Blocks(t *testing.T) {
	tg := newTestTarget(t, 300)
	clearSense(t, tg)

	cb := make([]byte, 16)
	cb[0] = SCSIRead6
	cb[4] = 0 // count 0 means 256 blocks

	n := tg.begin(cb, 6)
	assert.Equal(t, int64(256*BlockSize), n)
}

func TestBeginTransferRejectsOutOfRange(t *testing.T) {
	tg := newTestTarget(t, 10)
	clearSense(t, tg)

	cb := make([]byte, 16)
	cb[0] = SCSIRead10
	putBE32(cb[2:6], 8)
	putBE16(cb[7:9], 4) // blocks 8..11, but the LUN only has 10

	n := tg.begin(cb, 10)
	assert.Equal(t, int64(-1), n)
	assert.Equal(t, uint8(SenseIllegalRequest), tg.sense.key)
	assert.Equal(t, uint8(ASCLBAOutOfRange), tg.sense.asc)
}

func TestRead10DataOutReturnsStoredBytes(t *testing.T) {
	tg := newTestTarget(t, 4)
	clearSense(t, tg)

	block := make([]byte, BlockSize)
	for i := range block {
		block[i] = byte(i)
	}
	require.NoError(t, tg.storage.WriteBlock(1, block))

	cb := make([]byte, 16)
	cb[0] = SCSIRead10
	putBE32(cb[2:6], 1)
	putBE16(cb[7:9], 1)

	n := tg.begin(cb, 10)
	require.Equal(t, int64(BlockSize), n)

	var got []byte
	for len(got) < BlockSize {
		chunk, err := tg.dataOut(64)
		require.NoError(t, err)
		require.NotEmpty(t, chunk)
		got = append(got, chunk...)
	}
	assert.Equal(t, block, got)
}

func TestWrite10CommitsOnlyFullBlocks(t *testing.T) {
	tg := newTestTarget(t, 4)
	clearSense(t, tg)

	cb := make([]byte, 16)
	cb[0] = SCSIWrite10
	putBE32(cb[2:6], 2)
	putBE16(cb[7:9], 1)

	n := tg.begin(cb, 10)
	require.Equal(t, int64(BlockSize), n)

	partial := make([]byte, BlockSize-64)
	for i := range partial {
		partial[i] = 0x11
	}
	written, err := tg.dataIn(partial)
	require.NoError(t, err)
	assert.Equal(t, len(partial), written)
	assert.Zero(t, tg.lbaOffset, "a partial block must not be committed yet")

	rest := make([]byte, 64)
	for i := range rest {
		rest[i] = 0x11
	}
	_, err = tg.dataIn(rest)
	require.NoError(t, err)

	total, err := tg.dataInCommit()
	require.NoError(t, err)
	assert.Equal(t, int64(BlockSize), total)

	got := make([]byte, BlockSize)
	require.NoError(t, tg.storage.ReadBlock(got, 2))
	want := make([]byte, BlockSize)
	for i := range want {
		want[i] = 0x11
	}
	assert.Equal(t, want, got)
}

func TestInquiryFieldsAndAllocationCap(t *testing.T) {
	tg := newTestTarget(t, 16)
	clearSense(t, tg)

	cb := make([]byte, 16)
	cb[0] = SCSIInquiry
	putBE16(cb[3:5], 8) // host only wants the first 8 bytes

	n := tg.begin(cb, 6)
	assert.Equal(t, int64(8), n)

	data, err := tg.dataOut(64)
	require.NoError(t, err)
	assert.Len(t, data, 8)
	assert.Equal(t, uint8(DeviceTypeDisk), data[0])
	assert.Equal(t, uint8(InquiryRMB), data[1])
}

func TestModeSense6ZeroAllocationLengthReturnsNoData(t *testing.T) {
	tg := newTestTarget(t, 16)
	clearSense(t, tg)

	cb := make([]byte, 16)
	cb[0] = SCSIModeSense6
	cb[4] = 0

	n := tg.begin(cb, 6)
	assert.Zero(t, n)
}

func TestModeSense6AllPagesIncludesFlexibleDiskPage(t *testing.T) {
	tg := newTestTarget(t, 16)
	clearSense(t, tg)

	cb := make([]byte, 16)
	cb[0] = SCSIModeSense6
	cb[2] = ModePageAllPages
	cb[4] = 0xFF

	n := tg.begin(cb, 6)
	want := int64(ModeParameterHeader6Length + 2 + FlexibleDiskPageLength)
	require.Equal(t, want, n)

	data, err := tg.dataOut(64)
	require.NoError(t, err)
	assert.Equal(t, uint8(n-1), data[0], "mode_data_length excludes itself")
	assert.Equal(t, uint8(ModePageFlexibleDisk), data[ModeParameterHeader6Length])
}

func TestReadCapacity10ReportsLastLBA(t *testing.T) {
	tg := newTestTarget(t, 100)
	clearSense(t, tg)

	cb := make([]byte, 16)
	cb[0] = SCSIReadCapacity10

	n := tg.begin(cb, 10)
	require.Equal(t, int64(8), n)

	data, err := tg.dataOut(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(99), getBE32(data[0:4]))
	assert.Equal(t, uint32(BlockSize), getBE32(data[4:8]))
}

func TestReadFormatCapacitiesDescriptor(t *testing.T) {
	tg := newTestTarget(t, 100)
	clearSense(t, tg)

	cb := make([]byte, 16)
	cb[0] = SCSIReadFormatCapacities
	putBE16(cb[7:9], 12)

	n := tg.begin(cb, 10)
	require.Equal(t, int64(12), n)

	data, err := tg.dataOut(12)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), data[3])
	assert.Equal(t, uint32(100), getBE32(data[4:8]))
}

func TestReportLUNsSingleLUN(t *testing.T) {
	tg := newTestTarget(t, 16)
	clearSense(t, tg)

	cb := make([]byte, 16)
	cb[0] = SCSIReportLUNs
	putBE32(cb[6:10], ReportLUNsBlockLength)

	n := tg.begin(cb, 12)
	require.Equal(t, int64(ReportLUNsBlockLength), n)

	data, err := tg.dataOut(ReportLUNsBlockLength)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), getBE32(data[0:4]))
}

func TestPreventAllowRemovalRejectsBit(t *testing.T) {
	tg := newTestTarget(t, 16)
	clearSense(t, tg)

	cb := make([]byte, 16)
	cb[0] = SCSIPreventAllowRemoval
	cb[4] = 0x01

	n := tg.begin(cb, 6)
	assert.Equal(t, int64(-1), n)
	assert.Equal(t, uint8(ASCInvalidFieldInCDB), tg.sense.asc)
}
