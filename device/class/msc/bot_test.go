package msc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbmsc/device"
	"github.com/ardnew/usbmsc/device/hal"
)

// errFakeBulkHALQueueEmpty signals a test wrote a scenario that reads more
// packets than it queued, rather than letting the call hang forever.
var errFakeBulkHALQueueEmpty = errors.New("fakeBulkHAL: queue empty")

// fakeBulkHAL implements hal.DeviceHAL with per-address FIFO packet queues,
// grounded on the teacher's own mockHAL in device/stack_test.go but
// specialized to drive bot.go's Read/Write calls directly without a running
// control loop.
type fakeBulkHAL struct {
	mu      sync.Mutex
	inQueue map[uint8][][]byte // host -> device packets consumed by Read
	written map[uint8][][]byte // device -> host packets captured from Write
	stalled map[uint8]bool
}

func newFakeBulkHAL() *fakeBulkHAL {
	return &fakeBulkHAL{
		inQueue: make(map[uint8][][]byte),
		written: make(map[uint8][][]byte),
		stalled: make(map[uint8]bool),
	}
}

func (h *fakeBulkHAL) queue(address uint8, packet []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inQueue[address] = append(h.inQueue[address], packet)
}

func (h *fakeBulkHAL) writesFor(address uint8) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.written[address]
}

func (h *fakeBulkHAL) Init(ctx context.Context) error                       { return nil }
func (h *fakeBulkHAL) Start() error                                         { return nil }
func (h *fakeBulkHAL) Stop() error                                          { return nil }
func (h *fakeBulkHAL) SetAddress(address uint8) error                       { return nil }
func (h *fakeBulkHAL) ConfigureEndpoints(eps []hal.EndpointConfig) error    { return nil }
func (h *fakeBulkHAL) WriteEP0(ctx context.Context, data []byte) error      { return nil }
func (h *fakeBulkHAL) ReadEP0(ctx context.Context, buf []byte) (int, error) { return 0, nil }
func (h *fakeBulkHAL) StallEP0() error                                      { return nil }
func (h *fakeBulkHAL) AckEP0() error                                        { return nil }
func (h *fakeBulkHAL) IsConnected() bool                                    { return true }
func (h *fakeBulkHAL) GetSpeed() hal.Speed                                  { return hal.SpeedHigh }
func (h *fakeBulkHAL) WaitConnect(ctx context.Context) error                { return nil }
func (h *fakeBulkHAL) WaitDisconnect(ctx context.Context) error             { return nil }

func (h *fakeBulkHAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	<-ctx.Done()
	return ctx.Err()
}

func (h *fakeBulkHAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	q := h.inQueue[address]
	if len(q) == 0 {
		return 0, errFakeBulkHALQueueEmpty
	}
	packet := q[0]
	h.inQueue[address] = q[1:]
	return copy(buf, packet), nil
}

func (h *fakeBulkHAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written[address] = append(h.written[address], append([]byte{}, data...))
	return len(data), nil
}

func (h *fakeBulkHAL) Stall(address uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stalled[address] = true
	return nil
}

func (h *fakeBulkHAL) ClearStall(address uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stalled[address] = false
	return nil
}

const (
	testBulkInAddr  = 0x81
	testBulkOutAddr = 0x02
)

// newBotTestFixture builds an MSC driver wired to a fakeBulkHAL through a
// fully configured device, bypassing SET_CONFIGURATION's usual Attach hook
// since no real enumeration takes place in these tests.
func newBotTestFixture(t *testing.T, blockCount uint32) (*MSC, *fakeBulkHAL) {
	t.Helper()

	dev := device.NewDevice(&device.DeviceDescriptor{MaxPacketSize0: 64})
	config := device.NewConfiguration(1)
	iface := device.NewInterface(&device.InterfaceDescriptor{InterfaceNumber: 0})
	epIn := &device.Endpoint{Address: testBulkInAddr, Attributes: device.EndpointTypeBulk, MaxPacketSize: BulkMaxPacketSize}
	epOut := &device.Endpoint{Address: testBulkOutAddr, Attributes: device.EndpointTypeBulk, MaxPacketSize: BulkMaxPacketSize}
	require.NoError(t, iface.AddEndpoint(epIn))
	require.NoError(t, iface.AddEndpoint(epOut))
	require.NoError(t, config.AddInterface(iface))
	require.NoError(t, dev.AddConfiguration(config))
	dev.Reset()
	require.NoError(t, dev.SetAddress(1))
	require.NoError(t, dev.SetConfiguration(1))

	h := newFakeBulkHAL()
	stack := device.NewStack(dev, h)

	m := New(NewMemoryStorage(blockCount), "ardnew", "Test Disk", "1.0")
	m.SetStack(stack)
	require.NoError(t, m.Init(iface))
	require.NoError(t, m.target.init())

	return m, h
}

// buildCBW assembles a raw 31-byte CBW packet.
func buildCBW(tag, dataLen uint32, flags, lun, cbLen uint8, cb []byte) []byte {
	buf := make([]byte, CBWSize)
	putLE32(buf[0:4], CBWSignature)
	putLE32(buf[4:8], tag)
	putLE32(buf[8:12], dataLen)
	buf[12] = flags
	buf[13] = lun
	buf[14] = cbLen
	copy(buf[15:31], cb)
	return buf
}

func parseCSWBytes(t *testing.T, data []byte) commandStatusWrapper {
	t.Helper()
	require.Len(t, data, CSWSize)
	return commandStatusWrapper{
		signature: getLE32(data[0:4]),
		tag:       getLE32(data[4:8]),
		residue:   getLE32(data[8:12]),
		status:    data[12],
	}
}

func TestRunTransactionInquirySingleChunk(t *testing.T) {
	m, h := newBotTestFixture(t, 16)

	cb := make([]byte, 16)
	cb[0] = SCSIInquiry
	putBE16(cb[3:5], InquiryStandardSize)
	cbw := buildCBW(0xAAAA0001, InquiryStandardSize, CBWFlagDataIn, 0, 6, cb)
	h.queue(testBulkOutAddr, cbw)

	require.NoError(t, m.runTransaction(context.Background()))

	writes := h.writesFor(testBulkInAddr)
	require.Len(t, writes, 2, "one data packet plus one CSW")

	data := writes[0]
	require.Len(t, data, InquiryStandardSize)
	assert.Equal(t, uint8(DeviceTypeDisk), data[0])
	assert.Equal(t, uint8(InquiryRMB), data[1])

	csw := parseCSWBytes(t, writes[1])
	assert.Equal(t, uint32(CSWSignature), csw.signature)
	assert.Equal(t, uint32(0xAAAA0001), csw.tag)
	assert.Zero(t, csw.residue)
	assert.Equal(t, uint8(CSWStatusPassed), csw.status)
}

func TestRunTransactionReadCapacity10(t *testing.T) {
	m, h := newBotTestFixture(t, 100)

	cb := make([]byte, 16)
	cb[0] = SCSIReadCapacity10
	cbw := buildCBW(0x1, 8, CBWFlagDataIn, 0, 10, cb)
	h.queue(testBulkOutAddr, cbw)

	require.NoError(t, m.runTransaction(context.Background()))

	writes := h.writesFor(testBulkInAddr)
	require.Len(t, writes, 2)
	assert.Equal(t, uint32(99), getBE32(writes[0][0:4]))

	csw := parseCSWBytes(t, writes[1])
	assert.Zero(t, csw.residue)
	assert.Equal(t, uint8(CSWStatusPassed), csw.status)
}

func TestRunTransactionWrite10FullCycle(t *testing.T) {
	m, h := newBotTestFixture(t, 4)

	cb := make([]byte, 16)
	cb[0] = SCSIWrite10
	putBE32(cb[2:6], 2)
	putBE16(cb[7:9], 1)
	cbw := buildCBW(0x2, BlockSize, CBWFlagDataOut, 0, 10, cb)
	h.queue(testBulkOutAddr, cbw)

	payload := make([]byte, BlockSize)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	for off := 0; off < BlockSize; off += BulkMaxPacketSize {
		h.queue(testBulkOutAddr, payload[off:off+BulkMaxPacketSize])
	}

	require.NoError(t, m.runTransaction(context.Background()))

	got := make([]byte, BlockSize)
	require.NoError(t, m.target.storage.ReadBlock(got, 2))
	assert.Equal(t, payload, got)

	writes := h.writesFor(testBulkInAddr)
	require.Len(t, writes, 1, "WRITE carries no device-to-host data, only the CSW")
	csw := parseCSWBytes(t, writes[0])
	assert.Zero(t, csw.residue)
	assert.Equal(t, uint8(CSWStatusPassed), csw.status)
}

func TestRunTransactionUnknownOpcodeFailsWithFullResidue(t *testing.T) {
	m, h := newBotTestFixture(t, 16)

	cb := make([]byte, 16)
	cb[0] = 0x1C // RECEIVE DIAGNOSTIC RESULTS: valid CDB shape, not dispatched
	cbw := buildCBW(0x3, 64, CBWFlagDataIn, 0, 6, cb)
	h.queue(testBulkOutAddr, cbw)

	require.NoError(t, m.runTransaction(context.Background()))

	writes := h.writesFor(testBulkInAddr)
	require.Len(t, writes, 1, "a command-level failure owes no DATA phase")
	csw := parseCSWBytes(t, writes[0])
	assert.Equal(t, uint32(64), csw.residue, "residue equals the full host-promised length")
	assert.Equal(t, uint8(CSWStatusFailed), csw.status)
}

func TestRunTransactionMalformedCBWStallsBoth(t *testing.T) {
	m, h := newBotTestFixture(t, 16)

	h.queue(testBulkOutAddr, make([]byte, CBWSize-1)) // too short to parse

	require.NoError(t, m.runTransaction(context.Background()))

	assert.True(t, h.stalled[testBulkInAddr])
	assert.True(t, h.stalled[testBulkOutAddr])

	writes := h.writesFor(testBulkInAddr)
	require.Len(t, writes, 1)
	csw := parseCSWBytes(t, writes[0])
	assert.Zero(t, csw.tag)
	assert.Zero(t, csw.residue)
	assert.Equal(t, uint8(CSWStatusFailed), csw.status)
}

func TestRunTransactionHostOverstatesLengthOnRead(t *testing.T) {
	// READ CAPACITY(10) always replies with exactly 8 bytes; a host CBW
	// claiming more triggers the device<hostLen disagreement (spec.md
	// §4.E): the device sends what it has and the CSW reports the shortfall.
	m, h := newBotTestFixture(t, 100)

	cb := make([]byte, 16)
	cb[0] = SCSIReadCapacity10
	cbw := buildCBW(0x4, 16, CBWFlagDataIn, 0, 10, cb)
	h.queue(testBulkOutAddr, cbw)

	require.NoError(t, m.runTransaction(context.Background()))

	writes := h.writesFor(testBulkInAddr)
	require.Len(t, writes, 2)
	assert.Len(t, writes[0], 8)

	csw := parseCSWBytes(t, writes[1])
	assert.Equal(t, uint32(8), csw.residue, "8 of the 16 promised bytes were never sent")
	assert.Equal(t, uint8(CSWStatusPassed), csw.status)
}
