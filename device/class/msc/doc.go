// Package msc implements a USB Mass Storage Class (MSC) device driver
// using the Bulk-Only Transport (BOT) protocol with the SCSI transparent
// command set.
//
// The MSC class lets a USB device appear as a standard disk drive to the
// host. This package exposes exactly one LUN, backed by a Storage
// implementation of the caller's choosing.
//
// # Architecture
//
//   - wire.go       - CBW/CSW wire structures
//   - buffer.go      - fixed-size streaming buffer bridging bulk packets
//     and storage blocks
//   - target.go      - SCSI command dispatcher and per-LUN state
//   - bot.go         - BOT phase machine driving target over the bulk
//     endpoints
//   - storage.go     - Storage interface, MemoryStorage and FileStorage
//   - msc.go         - device.ClassDriver glue
//
// # Bulk-Only Transport
//
// Each command is one CBW/DATA/CSW cycle: the host sends a 31-byte
// Command Block Wrapper, an optional data phase moves bytes in the
// direction the CBW names, and the device replies with a 13-byte Command
// Status Wrapper.
//
// # SCSI command support
//
// TEST UNIT READY, REQUEST SENSE, FORMAT UNIT (reported unsupported),
// READ/WRITE (6) and (10), INQUIRY, MODE SENSE (6), LOAD/UNLOAD, SEND
// DIAGNOSTIC, PREVENT/ALLOW MEDIUM REMOVAL, READ FORMAT CAPACITIES, READ
// CAPACITY (10), and REPORT LUNS. No other opcode is dispatched.
//
// # Usage
//
//	storage := msc.NewMemoryStorage(2048) // 1 MiB, 512-byte blocks
//	disk := msc.New(storage, "acme", "virtual disk", "1.0")
//
//	builder := device.NewDeviceBuilder().
//		WithVendorProduct(0x1234, 0x5681).
//		WithStrings("acme", "Mass Storage", "000001").
//		AddConfiguration(1)
//	disk.ConfigureDevice(builder, 0x81, 0x01)
//
//	dev, _ := builder.Build(ctx)
//	stack := device.NewStack(dev, hal)
//	disk.SetStack(stack)
//	disk.Attach(ctx, dev, 1)
//	stack.Start(ctx)
//
// # References
//
//   - USB Mass Storage Class Specification 1.0
//   - USB Mass Storage Bulk-Only Transport 1.0
//   - SCSI Primary Commands (SPC-4)
//   - SCSI Block Commands (SBC-3)
package msc
