// Command natlinkd emulates one or more Loxone-Link NAT bus devices
// (Extensions and their Tree children) on a CAN bus, so a Loxone
// Miniserver can discover, assign, authenticate, and control them as if
// they were real hardware.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gousb"

	"natlinkd/internal/config"
	"natlinkd/internal/diag"
	"natlinkd/internal/transport/loopback"
	"natlinkd/internal/transport/usbcan"
	"natlinkd/pkg/natbus"
	"natlinkd/pkg/natbus/factory"
)

var (
	loopbackMode = flag.Bool("loopback", false, "run against an in-process loopback bus instead of a real USB-CAN bridge")
	usbVendorID  = flag.Uint("usb-vid", 0x0483, "USB-CAN bridge vendor ID")
	usbProductID = flag.Uint("usb-pid", 0x5740, "USB-CAN bridge product ID")
	usbEPOut     = flag.Uint("usb-ep-out", 0x01, "USB-CAN bridge bulk OUT endpoint address")
	usbEPIn      = flag.Uint("usb-ep-in", 0x81, "USB-CAN bridge bulk IN endpoint address")
	diagAddr     = flag.String("diag-addr", "", "diagnostics HTTP listen address (overrides NAT_LISTEN_ADDR)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("natlinkd: config: %v", err)
	}
	if *diagAddr != "" {
		cfg.ListenAddr = *diagAddr
	}

	var adapter natbus.Adapter
	if *loopbackMode {
		bus := loopback.NewBus()
		adapter = bus.NewPort()
		log.Printf("natlinkd: using in-process loopback bus")
	} else {
		a, err := usbcan.Open(gousb.ID(*usbVendorID), gousb.ID(*usbProductID), gousb.EndpointAddress(*usbEPOut), gousb.EndpointAddress(*usbEPIn))
		if err != nil {
			log.Fatalf("natlinkd: usbcan: %v", err)
		}
		adapter = a
	}

	spec := factory.Spec{
		Serial:          cfg.Identity.Serial,
		DeviceType:      cfg.Identity.DeviceType,
		HardwareVersion: cfg.Identity.HardwareVersion,
		FirmwareVersion: cfg.Identity.FirmwareVersion,
		STM32DeviceID:   cfg.Crypto.MasterDeviceID,
	}

	built, err := factory.Build(spec, adapter, &cfg.Crypto)
	if err != nil {
		log.Fatalf("natlinkd: factory: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := built.Extension.Run(ctx); err != nil {
			log.Printf("natlinkd: extension run exited: %v", err)
		}
	}()

	diagServer := diag.NewServer(cfg.ListenAddr, built)
	go func() {
		if err := diagServer.Run(ctx); err != nil {
			log.Printf("natlinkd: diagnostics server exited: %v", err)
		}
	}()
	log.Printf("natlinkd: diagnostics listening on %s", cfg.ListenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("natlinkd: shutting down")
	cancel()
	if err := built.Extension.Stop(); err != nil {
		log.Printf("natlinkd: extension stop: %v", err)
	}
}
