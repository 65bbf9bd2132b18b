package msc

// USB Mass Storage Class codes.
const (
	ClassMSC = 0x08 // Mass Storage Class
)

// MSC Subclass codes.
const (
	SubclassSCSI = 0x06 // SCSI Transparent Command Set
)

// MSC Protocol codes.
const (
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport (BOT)
)

// Bulk-Only Transport class-specific request codes.
const (
	RequestGetMaxLUN                = 0xFE // Get maximum Logical Unit Number
	RequestBulkOnlyMassStorageReset = 0xFF // Reset the MSC device
)

// Command Block Wrapper (CBW) constants.
const (
	CBWSignature   = 0x43425355 // "USBC" signature
	CBWSize        = 31         // Fixed CBW size in bytes
	CBWFlagDataOut = 0x00       // Data transfer: host to device
	CBWFlagDataIn  = 0x80       // Data transfer: device to host
	MaxLUN         = 0          // Only LUN 0 is supported
)

// Command Status Wrapper (CSW) constants.
const (
	CSWSignature        = 0x53425355 // "USBS" signature
	CSWSize             = 13         // Fixed CSW size in bytes
	CSWStatusPassed     = 0x00       // Command passed
	CSWStatusFailed     = 0x01       // Command failed
	CSWStatusPhaseError = 0x02       // Phase error occurred
)

// BulkMaxPacketSize is the fixed max packet size of both bulk endpoints.
const BulkMaxPacketSize = 64

// BlockSize is the fixed storage block size.
const BlockSize = 512

// The enumerated SCSI command set (spec.md §4.D.3). No other opcode is
// dispatched.
const (
	SCSITestUnitReady        = 0x00
	SCSIRequestSense         = 0x03
	SCSIFormatUnit           = 0x04
	SCSIRead6                = 0x08
	SCSIWrite6               = 0x0A
	SCSIInquiry              = 0x12
	SCSIModeSense6           = 0x1A
	SCSILoadUnload           = 0x1B
	SCSISendDiagnostic       = 0x1D
	SCSIPreventAllowRemoval  = 0x1E
	SCSIReadFormatCapacities = 0x23
	SCSIReadCapacity10       = 0x25
	SCSIRead10               = 0x28
	SCSIWrite10              = 0x2A
	SCSIReportLUNs           = 0xA0
)

// SCSI sense keys.
const (
	SenseNoSense        = 0x00
	SenseNotReady       = 0x02
	SenseMediumError    = 0x03
	SenseHardwareError  = 0x04
	SenseIllegalRequest = 0x05
	SenseUnitAttention  = 0x06
)

// Additional Sense Code / Additional Sense Code Qualifier pairs used by
// this target. Named as ASC<Name>/ASCQ<Name> rather than packed together,
// since the wire encoding keeps them as two separate bytes.
const (
	ASCNoAdditionalInfo  = 0x00
	ASCQNoAdditionalInfo = 0x00

	ASCPeripheralDeviceWriteFault  = 0x03
	ASCQPeripheralDeviceWriteFault = 0x00

	ASCLUNNotReady  = 0x04
	ASCQLUNNotReady = 0x00

	ASCUnrecoveredReadError  = 0x11
	ASCQUnrecoveredReadError = 0x00

	ASCInvalidCommand  = 0x20
	ASCQInvalidCommand = 0x00

	ASCLBAOutOfRange  = 0x21
	ASCQLBAOutOfRange = 0x00

	ASCInvalidFieldInCDB  = 0x24
	ASCQInvalidFieldInCDB = 0x00

	ASCNotReadyToReadyChange  = 0x28
	ASCQNotReadyToReadyChange = 0x00

	ASCFormatCommandFailed  = 0x31
	ASCQFormatCommandFailed = 0x01

	ASCMediumNotPresent  = 0x3A
	ASCQMediumNotPresent = 0x00
)

// SCSI peripheral device type.
const DeviceTypeDisk = 0x00 // Direct access block device

// INQUIRY response constants.
const (
	InquiryStandardSize      = 36
	InquiryRMB               = 0x80 // Removable media bit
	InquiryVersionSPC4       = 0x06
	InquiryResponseFormatSPC = 0x02
)

// Mode page codes.
const (
	ModePageFlexibleDisk = 0x05 // Flexible Disk page
	ModePageAllPages     = 0x3F // RETURN_ALL page code
)

// ModeParameterHeader6Length is the length of the MODE SENSE(6) header.
const ModeParameterHeader6Length = 4

// FlexibleDiskPageLength is the length byte of the Flexible Disk mode page
// (not counting the page-code/length byte pair themselves).
const FlexibleDiskPageLength = 0x1e

// Capacity descriptor type for READ FORMAT CAPACITIES.
const CapacityDescriptorFormatted = 0x02

// FixedFormatSenseDataLength is the length of a fixed-format sense record.
const FixedFormatSenseDataLength = 18

// ReportLUNsBlockLength is the fixed size of the REPORT LUNS response for a
// single-LUN target.
const ReportLUNsBlockLength = 16
