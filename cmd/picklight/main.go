// Command picklight is the pick-to-light terminal firmware. The same wiring
// runs on a host (logging strip, stdio console) and on RP2040 boards.
package main

import (
	"log/slog"
	"time"

	"picklight-go/bus"
	"picklight-go/drivers/ledstrip"
	"picklight-go/services/alarm"
	"picklight-go/services/config"
	"picklight-go/services/console"
	"picklight-go/services/dispatch"
	"picklight-go/services/heartbeat"
	"picklight-go/services/indication"
	"picklight-go/services/mqttlink"
	"picklight-go/types"
)

func main() {
	ctx, stop := rootContext()
	defer stop()

	log := newLogger()
	slog.SetDefault(log)
	log.Info("main:boot", slog.String("device", deviceID))

	b := bus.NewBus(8)

	strip := ledstrip.New(newStripWriter(log), types.DefaultIndicationConfig().StripLength)
	disp := dispatch.New(b.NewConnection("dispatch"), dispatch.DefaultTimeout, log)

	go indication.New(b.NewConnection("indication"), strip, log).Run(ctx)
	go alarm.New(b.NewConnection("alarm"), openAlarmPin, log).Run(ctx)
	go heartbeat.New(b.NewConnection("heartbeat"), log).Run(ctx)
	go console.New(b.NewConnection("console"), disp, log).Run(ctx)
	go mqttlink.New(b.NewConnection("mqtt"), disp, log).Run(ctx)

	if err := setupNetwork(ctx, log); err != nil {
		log.Error("main:network_unavailable", slog.String("err", err.Error()))
	}

	config.New(log).Start(config.WithDevice(ctx, deviceID), b.NewConnection("config"))

	<-ctx.Done()
	// Let the links publish their offline notices.
	time.Sleep(250 * time.Millisecond)
	log.Info("main:shutdown")
}
