package msc

import (
	"context"

	"github.com/ardnew/usbmsc/pkg"
)

// runTransaction drives one full CBW/DATA/CSW cycle (spec.md §4.E): read and
// validate the CBW, dispatch it through the target, move the DATA phase in
// BulkMaxPacketSize-bounded chunks, and send the CSW.
func (m *MSC) runTransaction(ctx context.Context) error {
	n, err := m.stack.Read(ctx, m.bulkOut, m.cbwBuf[:])
	if err != nil {
		return err
	}

	cbw, ok := parseCBW(m.cbwBuf[:n])
	if !ok || !cbw.valid() {
		pkg.LogWarn(pkg.ComponentEndpoint, "malformed CBW, stalling both endpoints", "bytes", n)
		m.stallBoth()
		return m.sendCSW(ctx, cbw.tag, 0, CSWStatusFailed)
	}

	hostLen := cbw.dataTransferLength
	deviceLen := m.target.begin(cbw.cb[:cbw.cbLength], cbw.cbLength)

	if deviceLen < 0 {
		// Command-level failure: sense is already set, no DATA phase is
		// owed regardless of what the host promised.
		return m.sendCSW(ctx, cbw.tag, hostLen, CSWStatusFailed)
	}
	device := uint32(deviceLen)

	switch {
	case device == 0 && hostLen == 0:
		return m.sendCSW(ctx, cbw.tag, 0, CSWStatusPassed)

	case device == hostLen:
		processed, dataErr := m.runDataPhase(ctx, &cbw, hostLen)
		return m.finishCSW(ctx, cbw.tag, hostLen, processed, dataErr)

	case device == 0 && hostLen > 0:
		m.stack.StallEndpoint(m.bulkIn)
		return m.sendCSW(ctx, cbw.tag, 0, CSWStatusPhaseError)

	case device > 0 && hostLen == 0:
		m.stack.StallEndpoint(m.bulkIn)
		return m.sendCSW(ctx, cbw.tag, 0, CSWStatusPhaseError)

	case device < hostLen && !cbw.isDataIn():
		m.stallBoth()
		return m.sendCSW(ctx, cbw.tag, 0, CSWStatusPhaseError)

	default:
		limit := hostLen
		if device < limit {
			limit = device
		}
		processed, dataErr := m.runDataPhase(ctx, &cbw, limit)
		return m.finishCSW(ctx, cbw.tag, hostLen, processed, dataErr)
	}
}

func (m *MSC) finishCSW(ctx context.Context, tag, hostLen, processed uint32, dataErr error) error {
	status := uint8(CSWStatusPassed)
	if dataErr != nil {
		status = CSWStatusFailed
	}
	return m.sendCSW(ctx, tag, hostLen-processed, status)
}

// runDataPhase moves up to expected bytes in the direction cbw names,
// returning how many bytes actually crossed the wire.
func (m *MSC) runDataPhase(ctx context.Context, cbw *commandBlockWrapper, expected uint32) (uint32, error) {
	if cbw.isDataIn() {
		return m.runDataIn(ctx, expected)
	}
	return m.runDataOut(ctx, expected)
}

// runDataIn serves device-to-host transfers (READ-family and the various
// sense/inquiry/capacity responses), pulling directly from the target's
// streaming buffer with no intermediate copy.
func (m *MSC) runDataIn(ctx context.Context, expected uint32) (uint32, error) {
	var sent uint32
	for sent < expected {
		want := int(expected - sent)
		if want > BulkMaxPacketSize {
			want = BulkMaxPacketSize
		}

		chunk, err := m.target.dataOut(want)
		if err != nil {
			m.stack.StallEndpoint(m.bulkIn)
			return sent, err
		}
		if len(chunk) == 0 {
			// Dispatcher is out of data short of what was promised: an
			// honest short transfer, not a failure.
			break
		}

		n, err := m.stack.Write(ctx, m.bulkIn, chunk)
		if err != nil {
			m.stack.StallEndpoint(m.bulkIn)
			return sent, err
		}
		sent += uint32(n)
		if m.metrics != nil {
			m.metrics.observeBytes(CBWFlagDataIn, n)
		}
		if n < len(chunk) {
			break
		}
	}
	return sent, nil
}

// runDataOut serves host-to-device transfers (WRITE-family), reading
// BulkMaxPacketSize-bounded chunks from the host and handing each to the
// target for buffering/commit.
func (m *MSC) runDataOut(ctx context.Context, expected uint32) (uint32, error) {
	var received uint32
	var chunk [BulkMaxPacketSize]byte

	for received < expected {
		want := int(expected - received)
		if want > BulkMaxPacketSize {
			want = BulkMaxPacketSize
		}

		n, err := m.stack.Read(ctx, m.bulkOut, chunk[:want])
		if err != nil {
			m.stack.StallEndpoint(m.bulkOut)
			return received, err
		}
		if n == 0 {
			break
		}

		written, err := m.target.dataIn(chunk[:n])
		received += uint32(written)
		if err != nil {
			m.stack.StallEndpoint(m.bulkOut)
			return received, err
		}
		if m.metrics != nil {
			m.metrics.observeBytes(CBWFlagDataOut, written)
		}
		if n < want {
			break
		}
	}

	if _, err := m.target.dataInCommit(); err != nil {
		return received, err
	}
	return received, nil
}

func (m *MSC) stallBoth() {
	m.stack.StallEndpoint(m.bulkIn)
	m.stack.StallEndpoint(m.bulkOut)
}

func (m *MSC) sendCSW(ctx context.Context, tag, residue uint32, status uint8) error {
	csw := newCSW(tag, residue, status)
	csw.marshalTo(m.cswBuf[:])
	_, err := m.stack.Write(ctx, m.bulkIn, m.cswBuf[:])
	return err
}

// run drains CBWs from the bulk-out endpoint until ctx is cancelled.
func (m *MSC) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := m.runTransaction(ctx); err != nil {
			pkg.LogWarn(pkg.ComponentEndpoint, "CBW transaction failed", "error", err)
		}
	}
}
