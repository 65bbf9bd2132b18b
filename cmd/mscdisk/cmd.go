package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ardnew/usbmsc/device"
	"github.com/ardnew/usbmsc/device/class/msc"
	"github.com/ardnew/usbmsc/device/hal/fifo"
	"github.com/ardnew/usbmsc/pkg"
)

// runContext carries state shared across every subcommand's Run method.
type runContext struct {
	registry *prometheus.Registry
}

// cli is the top-level command line interface, parsed by kong.
var cli struct {
	MetricsAddr string `help:"serve Prometheus metrics on this address (disabled if empty)"`
	Verbose     bool   `short:"v" help:"enable debug logging"`
	JSON        bool   `help:"use JSON log format"`

	Create  createCmd  `cmd:"" help:"create a new flat disk image"`
	Serve   serveCmd   `cmd:"" help:"expose a disk image as a USB mass storage device over a FIFO bus"`
	Inspect inspectCmd `cmd:"" help:"print a disk image's volume UUID and block count"`
}

// createCmd creates a new flat disk image file sized in BlockSize blocks.
type createCmd struct {
	Path   string `arg:"" help:"disk image path to create"`
	Blocks uint32 `help:"number of 512-byte blocks" default:"2048"`
}

func (c *createCmd) Run(rc *runContext) error {
	storage, err := msc.CreateFileStorage(c.Path, c.Blocks)
	if err != nil {
		return fmt.Errorf("create %s: %w", c.Path, err)
	}
	defer storage.Close()

	fmt.Printf("created %s: %d blocks (%d bytes), volume %s\n",
		c.Path, c.Blocks, uint64(c.Blocks)*msc.BlockSize, storage.VolumeID())
	return nil
}

// inspectCmd reports an existing disk image's size and volume UUID without
// serving it over USB.
type inspectCmd struct {
	Path string `arg:"" help:"disk image path"`
}

func (c *inspectCmd) Run(rc *runContext) error {
	storage, err := msc.OpenFileStorage(c.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.Path, err)
	}
	defer storage.Close()

	blocks := storage.MaxLBA()
	fmt.Printf("%s: %d blocks (%d bytes), volume %s\n",
		c.Path, blocks, uint64(blocks)*msc.BlockSize, storage.VolumeID())
	return nil
}

// serveCmd runs an MSC device over the FIFO HAL, backed by either a flat
// disk image (created on demand) or a process-resident memory image.
type serveCmd struct {
	BusDir   string `arg:"" help:"FIFO bus directory shared with a host process"`
	Image    string `help:"disk image path, created with --blocks if it doesn't exist; memory-backed if empty"`
	Blocks   uint32 `help:"blocks to allocate for a new or memory-backed image" default:"2048"`
	Vendor   string `default:"ardnew" help:"INQUIRY vendor ID (max 8 chars)"`
	Product  string `default:"Virtual Disk" help:"INQUIRY product ID (max 16 chars)"`
	Revision string `default:"1.0" help:"INQUIRY product revision (max 4 chars)"`
}

func (c *serveCmd) openStorage() (msc.Storage, error) {
	if c.Image == "" {
		return msc.NewMemoryStorage(c.Blocks), nil
	}
	if _, err := os.Stat(c.Image); err == nil {
		return msc.OpenFileStorage(c.Image)
	}
	return msc.CreateFileStorage(c.Image, c.Blocks)
}

func (c *serveCmd) Run(rc *runContext) error {
	storage, err := c.openStorage()
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	disk := msc.New(storage, c.Vendor, c.Product, c.Revision)
	if rc.registry != nil {
		disk.SetMetrics(msc.NewMetrics(rc.registry))
	}

	builder := device.NewDeviceBuilder().
		WithVendorProduct(0x1234, 0x5681).
		WithStrings(c.Vendor, c.Product, "mscdisk-0001").
		AddConfiguration(1)
	disk.ConfigureDevice(builder, 0x81, 0x01)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		pkg.LogInfo(pkg.ComponentDevice, "shutting down")
		cancel()
	}()

	dev, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("build device: %w", err)
	}

	iface := dev.GetInterface(0)
	if iface == nil {
		return fmt.Errorf("MSC interface not found on built device")
	}
	if err := iface.SetClassDriver(disk); err != nil {
		return fmt.Errorf("attach MSC driver: %w", err)
	}

	hal := fifo.New(c.BusDir)
	stack := device.NewStack(dev, hal)
	disk.SetStack(stack)
	disk.Attach(ctx, dev, 1)

	if err := stack.Start(ctx); err != nil {
		return fmt.Errorf("start stack: %w", err)
	}
	defer stack.Stop()

	pkg.LogInfo(pkg.ComponentDevice, "waiting for host connection", "busDir", c.BusDir)
	if err := stack.WaitConnect(ctx); err != nil {
		return fmt.Errorf("wait connect: %w", err)
	}

	pkg.LogInfo(pkg.ComponentDevice, "host connected, serving MSC requests")
	<-ctx.Done()
	return nil
}
