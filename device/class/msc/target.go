package msc

import (
	"sync"

	"github.com/ardnew/usbmsc/pkg"
)

// target owns all SCSI-visible state for LUN 0: the sense latch, the
// streaming I/O buffer, and the dispatcher that turns CDBs into storage
// operations. It implements the data-phase contract the BOT engine drives
// (spec.md §4.D.6): begin/dataOut/dataIn/dataInCommit.
type target struct {
	mu sync.Mutex

	storage     Storage
	initialized bool
	lun         lun

	inquiry [InquiryStandardSize]byte
	sense   fixedFormatSense

	buf streamBuffer

	// Active-command state, valid from begin() through the end of that
	// CBW's DATA phase. lbaOffset persists across dispatcher re-entries
	// within the same CBW (spec.md §9) and, for WRITE, doubles as the
	// running count of blocks committed to storage this CBW.
	opcode     uint8
	lba        uint32
	blockCount uint32
	lbaOffset  uint32

	metrics *Metrics
}

// newTarget builds a target around storage, with a constant INQUIRY block
// and the sense latch pre-loaded with UNIT ATTENTION / medium may have
// changed, per spec.md §3.
func newTarget(storage Storage, vendorID, productID, revision string) *target {
	t := &target{storage: storage}
	t.buildInquiry(vendorID, productID, revision)
	t.sense = fixedFormatSense{
		key:  SenseUnitAttention,
		asc:  ASCNotReadyToReadyChange,
		ascq: ASCQNotReadyToReadyChange,
	}
	return t
}

func (t *target) buildInquiry(vendorID, productID, revision string) {
	b := t.inquiry[:]
	b[0] = DeviceTypeDisk
	b[1] = InquiryRMB
	b[2] = InquiryVersionSPC4
	b[3] = InquiryResponseFormatSPC
	b[4] = InquiryStandardSize - 5
	copy(b[8:16], padASCII(vendorID, 8))
	copy(b[16:32], padASCII(productID, 16))
	copy(b[32:36], padASCII(revision, 4))
}

// padASCII right-pads (or truncates) s to width bytes with ASCII spaces,
// the fixed-width convention used by INQUIRY vendor/product/revision
// fields.
func padASCII(s string, width int) []byte {
	out := make([]byte, width)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}

// setMetrics wires optional prometheus instrumentation.
func (t *target) setMetrics(m *Metrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = m
}

// init initializes the backing storage and instantiates LUN 0. Called from
// the SET_CONFIGURATION(1) hook.
func (t *target) init() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.storage.Init(); err != nil {
		pkg.LogError(pkg.ComponentStorage, "storage init failed", "error", err)
		return err
	}
	t.lun = newLUN0(t.storage.MaxLBA())
	t.initialized = true
	pkg.LogInfo(pkg.ComponentSCSI, "target initialized", "blocks", t.lun.blockCount)
	return nil
}

func (t *target) setSense(key, asc, ascq uint8) {
	t.sense = fixedFormatSense{key: key, asc: asc, ascq: ascq}
	if t.metrics != nil {
		t.metrics.observeSense(key)
	}
}

// cdbExpectedLength returns the CDB length mandated by opcode's group code
// (spec.md §4.D.1), or 0/false for an opcode outside the supported groups.
func cdbExpectedLength(opcode uint8) (length uint8, ok bool) {
	switch opcode >> 5 {
	case 0:
		return 6, true
	case 1, 2:
		return 10, true
	case 5:
		return 12, true
	default:
		return 0, false
	}
}

// validateCDB checks the CDB length against opcode's group-code length,
// with the REQUEST SENSE / INQUIRY length-12 exception some hosts rely on.
func validateCDB(opcode, cbLen uint8) bool {
	expected, ok := cdbExpectedLength(opcode)
	if !ok {
		return false
	}
	if cbLen == expected {
		return true
	}
	return (opcode == SCSIRequestSense || opcode == SCSIInquiry) && cbLen == 12
}

// stateGateAllowed reports whether opcode may run before storage is
// initialised (spec.md §4.D.2).
func stateGateAllowed(opcode uint8) bool {
	switch opcode {
	case SCSIInquiry, SCSIReportLUNs, SCSIRequestSense, SCSISendDiagnostic, SCSITestUnitReady:
		return true
	default:
		return false
	}
}

// begin validates and dispatches a CDB. It returns the number of bytes the
// DATA phase is expected to carry (0 if there is none), or -1 on failure —
// the sense latch has already been set in that case.
func (t *target) begin(cb []byte, cbLen uint8) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cbLen == 0 {
		t.setSense(SenseHardwareError, ASCNoAdditionalInfo, ASCQNoAdditionalInfo)
		return -1
	}

	opcode := cb[0]

	if !validateCDB(opcode, cbLen) {
		t.setSense(SenseIllegalRequest, ASCInvalidCommand, ASCQInvalidCommand)
		return -1
	}

	if !t.initialized && !stateGateAllowed(opcode) {
		t.setSense(SenseIllegalRequest, ASCLUNNotReady, ASCQLUNNotReady)
		return -1
	}

	t.buf.reset()
	t.opcode = opcode
	t.lbaOffset = 0

	if t.metrics != nil {
		t.metrics.observeCommand(opcode)
	}

	switch opcode {
	case SCSITestUnitReady:
		return t.cmdTestUnitReady()
	case SCSIRequestSense:
		return t.cmdRequestSense(cb)
	case SCSIFormatUnit:
		return t.cmdFormatUnit()
	case SCSIRead6:
		return t.cmdRead6(cb)
	case SCSIWrite6:
		return t.cmdWrite6(cb)
	case SCSIInquiry:
		return t.cmdInquiry(cb)
	case SCSIModeSense6:
		return t.cmdModeSense6(cb)
	case SCSILoadUnload, SCSISendDiagnostic:
		return 0
	case SCSIPreventAllowRemoval:
		return t.cmdPreventAllowRemoval(cb)
	case SCSIReadFormatCapacities:
		return t.cmdReadFormatCapacities(cb)
	case SCSIReadCapacity10:
		return t.cmdReadCapacity10(cb)
	case SCSIRead10:
		return t.cmdRead10(cb)
	case SCSIWrite10:
		return t.cmdWrite10(cb)
	case SCSIReportLUNs:
		return t.cmdReportLUNs(cb)
	default:
		t.setSense(SenseIllegalRequest, ASCInvalidCommand, ASCQInvalidCommand)
		return -1
	}
}

func (t *target) cmdTestUnitReady() int64 {
	if !t.initialized {
		t.setSense(SenseNotReady, ASCMediumNotPresent, ASCQMediumNotPresent)
		return -1
	}
	if t.sense.key != SenseNoSense {
		return -1
	}
	return 0
}

func (t *target) cmdRequestSense(cb []byte) int64 {
	if cb[1]&0x01 != 0 {
		t.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, ASCQInvalidFieldInCDB)
		return -1
	}

	var raw [FixedFormatSenseDataLength]byte
	t.sense.marshalTo(raw[:])
	t.buf.write(raw[:])

	allocLen := int(cb[4])
	t.sense = fixedFormatSense{key: SenseNoSense, asc: ASCNoAdditionalInfo, ascq: ASCQNoAdditionalInfo}

	if allocLen < FixedFormatSenseDataLength {
		t.buf.limit(allocLen)
		return int64(allocLen)
	}
	return FixedFormatSenseDataLength
}

func (t *target) cmdFormatUnit() int64 {
	t.setSense(SenseMediumError, ASCFormatCommandFailed, ASCQFormatCommandFailed)
	return -1
}

// decodeLBA6 extracts the 21-bit LBA from a 6-byte READ/WRITE CDB: the top
// 5 bits of byte 1 are reserved, the remaining 21 bits span bytes 1-3.
func decodeLBA6(cb []byte) uint32 {
	return uint32(cb[1]&0x1F)<<16 | uint32(cb[2])<<8 | uint32(cb[3])
}

func (t *target) cmdRead6(cb []byte) int64 {
	lba := decodeLBA6(cb)
	count := uint32(cb[4])
	if count == 0 {
		count = 256
	}
	return t.beginTransfer(lba, count)
}

func (t *target) cmdWrite6(cb []byte) int64 {
	lba := decodeLBA6(cb)
	count := uint32(cb[4])
	if count == 0 {
		count = 256
	}
	return t.beginTransfer(lba, count)
}

func (t *target) cmdRead10(cb []byte) int64 {
	return t.beginTransfer(getBE32(cb[2:6]), uint32(getBE16(cb[7:9])))
}

func (t *target) cmdWrite10(cb []byte) int64 {
	return t.beginTransfer(getBE32(cb[2:6]), uint32(getBE16(cb[7:9])))
}

// beginTransfer range-checks a READ/WRITE against the LUN and, if valid,
// records the transfer for the data phase without moving any bytes yet.
func (t *target) beginTransfer(lba, count uint32) int64 {
	if !t.lun.inRange(uint64(lba), uint64(count)) {
		t.setSense(SenseIllegalRequest, ASCLBAOutOfRange, ASCQLBAOutOfRange)
		return -1
	}
	t.lba = lba
	t.blockCount = count
	return int64(count) * BlockSize
}

func (t *target) cmdInquiry(cb []byte) int64 {
	t.buf.write(t.inquiry[:])

	allocLen := int(getBE16(cb[3:5]))
	if allocLen < InquiryStandardSize {
		t.buf.limit(allocLen)
		return int64(allocLen)
	}
	return InquiryStandardSize
}

func (t *target) cmdModeSense6(cb []byte) int64 {
	allocLen := int(cb[4])
	if allocLen == 0 {
		return 0
	}

	pageCode := cb[2] & 0x3F

	var resp [ModeParameterHeader6Length + 32]byte
	total := ModeParameterHeader6Length
	if pageCode == ModePageAllPages {
		total += marshalFlexibleDiskPage(resp[ModeParameterHeader6Length:], t.lun.blockCount)
	}
	resp[0] = uint8(total - 1) // mode_data_length

	t.buf.write(resp[:total])

	if allocLen < total {
		t.buf.limit(allocLen)
		return int64(allocLen)
	}
	return int64(total)
}

// marshalFlexibleDiskPage writes the Flexible Disk mode page (code 0x05,
// length 0x1e) to buf and returns the number of bytes written (32).
func marshalFlexibleDiskPage(buf []byte, blockCount uint32) int {
	heads, sectorsPerTrack, cylinders := computeCHS(blockCount)

	buf[0] = ModePageFlexibleDisk
	buf[1] = FlexibleDiskPageLength
	putBE16(buf[2:4], 0) // transfer rate: unused by this target
	buf[4] = heads
	buf[5] = sectorsPerTrack
	putBE16(buf[6:8], BlockSize)
	putBE16(buf[8:10], cylinders)
	for i := 10; i < 32; i++ {
		buf[i] = 0
	}
	return 32
}

func (t *target) cmdPreventAllowRemoval(cb []byte) int64 {
	if cb[4]&0x01 != 0 {
		t.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, ASCQInvalidFieldInCDB)
		return -1
	}
	return 0
}

func (t *target) cmdReadFormatCapacities(cb []byte) int64 {
	allocLen := int(getBE16(cb[7:9]))

	var resp [12]byte
	resp[3] = 8 // capacity list length: one 8-byte descriptor follows
	putBE32(resp[4:8], t.lun.blockCount)
	putBE32(resp[8:12], uint32(CapacityDescriptorFormatted)<<24|BlockSize)

	t.buf.write(resp[:])
	if allocLen < len(resp) {
		t.buf.limit(allocLen)
		return int64(allocLen)
	}
	return int64(len(resp))
}

func (t *target) cmdReadCapacity10(cb []byte) int64 {
	if cb[8]&0x01 != 0 {
		t.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, ASCQInvalidFieldInCDB)
		return -1
	}

	var lastLBA uint32
	if t.lun.blockCount > 0 {
		lastLBA = t.lun.blockCount - 1
	}

	var resp [8]byte
	putBE32(resp[0:4], lastLBA)
	putBE32(resp[4:8], BlockSize)
	t.buf.write(resp[:])
	return int64(len(resp))
}

func (t *target) cmdReportLUNs(cb []byte) int64 {
	allocLen := int(getBE32(cb[6:10]))

	var resp [ReportLUNsBlockLength]byte
	putBE32(resp[0:4], 8) // one 8-byte LUN entry follows

	t.buf.write(resp[:])
	if allocLen < len(resp) {
		t.buf.limit(allocLen)
		return int64(allocLen)
	}
	return int64(len(resp))
}

// dataOut supplies the next device->host byte run (spec.md §4.D.6),
// refilling the streaming buffer from storage on demand for READ commands.
// Returns a nil slice with a nil error when no more data remains; a
// non-nil error means the dispatcher hit a storage or invariant failure
// and the sense latch has been set.
func (t *target) dataOut(max int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.buf.readable() == 0 {
		if err := t.refillRead(); err != nil {
			return nil, err
		}
	}
	return t.buf.read(max), nil
}

// refillRead is scsi_read (spec.md §4.D.4): it is re-entrant across calls
// within the same CBW, resuming from lbaOffset each time.
func (t *target) refillRead() error {
	if t.lbaOffset > t.blockCount {
		t.setSense(SenseHardwareError, ASCNoAdditionalInfo, ASCQNoAdditionalInfo)
		return pkg.ErrHardwareFault
	}
	if t.lbaOffset == t.blockCount {
		return nil
	}

	var block [BlockSize]byte
	for t.lbaOffset < t.blockCount && t.buf.writable() >= BlockSize {
		if err := t.storage.ReadBlock(block[:], t.lba+t.lbaOffset); err != nil {
			pkg.LogWarn(pkg.ComponentStorage, "read block failed",
				"lba", t.lba+t.lbaOffset, "error", err)
			t.setSense(SenseMediumError, ASCUnrecoveredReadError, ASCQUnrecoveredReadError)
			return err
		}
		t.buf.write(block[:])
		t.lbaOffset++
	}
	return nil
}

// dataIn accumulates host->device bytes (spec.md §4.D.6). If the buffer
// fills to exactly its capacity, it auto-commits the full blocks so more
// data can be accepted within the same CBW.
func (t *target) dataIn(src []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.buf.write(src) {
		return 0, pkg.ErrHardwareFault
	}

	if t.buf.writable() == 0 {
		if err := t.commitBlocks(); err != nil {
			return len(src), err
		}
		t.buf.reset()
	}

	return len(src), nil
}

// commitBlocks is scsi_write (spec.md §4.D.5): it drains full blocks from
// the buffer, leaving a trailing partial block unread for the next call.
func (t *target) commitBlocks() error {
	var block [BlockSize]byte
	for {
		data := t.buf.read(BlockSize)
		n := len(data)
		if n == 0 {
			return nil
		}
		if n < BlockSize {
			t.buf.unread(n)
			return nil
		}
		copy(block[:], data)
		if err := t.storage.WriteBlock(t.lba+t.lbaOffset, block[:]); err != nil {
			pkg.LogWarn(pkg.ComponentStorage, "write block failed",
				"lba", t.lba+t.lbaOffset, "error", err)
			t.setSense(SenseMediumError, ASCPeripheralDeviceWriteFault, ASCQPeripheralDeviceWriteFault)
			return err
		}
		t.lbaOffset++
	}
}

// dataInCommit flushes any completed blocks to storage, resets the buffer,
// and returns the total number of bytes successfully written this CBW.
// lbaOffset is the running count of committed blocks, so it already
// reflects bytes flushed by any earlier auto-commit within dataIn.
func (t *target) dataInCommit() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.commitBlocks()
	written := int64(t.lbaOffset) * BlockSize
	t.buf.reset()
	return written, err
}
