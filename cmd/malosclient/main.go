// Command malosclient subscribes to one or more remote hardware
// drivers, pushes their configuration and prints broadcast updates.
// Sensor selection comes from flags or an HCL config file; flags win.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"

	"github.com/matrix-io/malos-go/driver"
	"github.com/matrix-io/malos-go/log2"
	"github.com/matrix-io/malos-go/transport"
)

func main() {
	flagConfig := flag.String("config", "", "path to HCL config file")
	flagHost := flag.String("host", "127.0.0.1", "driver service host")
	flagDriver := flag.String("driver", "", "driver name (IMU, HUMIDITY, ...) or base port")
	flagPayload := flag.String("config-payload", "", "file with serialized driver configuration to push")
	flagKeepalive := flag.Duration("keepalive-timeout", 5*time.Second, "max remote silence before giving up, 0 disables")
	flagConfigure := flag.Duration("configure-timeout", driver.DefaultConfigTimeout, "wait for configuration acknowledge")
	flagMqttBroker := flag.String("mqtt-broker", "", "use MQTT transport via this broker URL instead of ZeroMQ")
	flagMqttPrefix := flag.String("mqtt-prefix", "", "MQTT topic prefix, required with -mqtt-broker")
	flagDebug := flag.Bool("debug", false, "")
	flag.Parse()

	logFlags := log.Lshortfile | log.Ltime | log.Lmicroseconds
	if sdnotify("start") {
		// under systemd journal, timestamps are redundant
		logFlags = log.Lshortfile
	}
	l := log2.NewStderr(log2.LInfo)
	l.SetFlags(logFlags)

	config := &Config{}
	if *flagConfig != "" {
		config = MustReadConfigFile(l, *flagConfig)
	}
	mergeFlags(config, flagDriver, flagPayload)
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			config.Host = *flagHost
		case "keepalive-timeout":
			if *flagKeepalive <= 0 {
				config.KeepaliveSec = -1 // explicit disable
			} else {
				config.KeepaliveSec = int(flagKeepalive.Seconds())
			}
		case "configure-timeout":
			config.ConfigureSec = int(flagConfigure.Seconds())
		case "mqtt-broker":
			config.Mqtt.Broker = *flagMqttBroker
		case "mqtt-prefix":
			config.Mqtt.Prefix = *flagMqttPrefix
		case "debug":
			config.Debug = *flagDebug
		}
	})
	if config.Host == "" {
		config.Host = *flagHost
	}
	if config.Debug {
		l.SetLevel(log2.LDebug)
	}
	if len(config.Drivers) == 0 {
		l.Fatal("no drivers selected, use -driver or config file")
	}

	dialer, err := newDialer(config, l)
	if err != nil {
		l.Fatal(errors.ErrorStack(err))
	}

	lp := driver.NewLoop(l)
	for _, dc := range config.Drivers {
		ld, err := loopDriver(config, dc, dialer, l)
		if err != nil {
			l.Fatal(errors.ErrorStack(err))
		}
		lp.Add(ld)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sdnotify(daemon.SdNotifyReady)
	l.Infof("running host=%s drivers=%d", config.Host, len(config.Drivers))
	err = lp.Run(ctx)
	sdnotify(daemon.SdNotifyStopping)
	if err != nil {
		l.Errorf("%s", errors.ErrorStack(err))
		os.Exit(1)
	}
}

// mergeFlags folds the single -driver/-config-payload selection into
// the config driver list.
func mergeFlags(config *Config, flagDriver, flagPayload *string) {
	if *flagDriver == "" {
		return
	}
	dc := DriverConfig{Name: *flagDriver, ConfigFile: *flagPayload}
	if port, err := strconv.ParseUint(*flagDriver, 10, 16); err == nil {
		dc.Port = int(port)
	}
	config.Drivers = append(config.Drivers, dc)
}

func newDialer(config *Config, l *log2.Log) (transport.Dialer, error) {
	if config.Mqtt.Broker == "" {
		return transport.NewZmqDialer(transport.ZmqOptions{Log: l}), nil
	}
	return transport.NewMqttDialer(transport.MqttOptions{
		BrokerURL:   config.Mqtt.Broker,
		TopicPrefix: config.Mqtt.Prefix,
		Log:         l,
	})
}

func loopDriver(config *Config, dc DriverConfig, dialer transport.Dialer, l *log2.Log) (driver.LoopDriver, error) {
	ld := driver.LoopDriver{
		Options: driver.ClientOptions{
			Host:   config.Host,
			Dialer: dialer,
			Log:    l,
		},
	}
	if dc.Port != 0 {
		ld.Options.BasePort = uint16(dc.Port)
	} else {
		port, err := driver.PortByName(dc.Name)
		if err != nil {
			return ld, errors.Annotatef(err, "driver=%s known=%v", dc.Name, driver.Names())
		}
		ld.Options.BasePort = port
	}
	if dc.ConfigFile != "" {
		payload, err := ioutil.ReadFile(dc.ConfigFile)
		if err != nil {
			return ld, errors.Annotatef(err, "driver=%s config payload", dc.Name)
		}
		ld.Config = payload
	}
	switch {
	case config.KeepaliveSec > 0:
		ld.HeartbeatWindow = time.Duration(config.KeepaliveSec) * time.Second
	case config.KeepaliveSec == 0:
		ld.HeartbeatWindow = 5 * time.Second
	}
	if config.ConfigureSec > 0 {
		ld.ConfigTimeout = time.Duration(config.ConfigureSec) * time.Second
	}
	name := dc.Name
	ld.OnData = func(b []byte) {
		// data goes to stdout for piping, diagnostics stay on stderr
		fmt.Printf("%s %x\n", name, b)
	}
	ld.OnStatus = func(b []byte) {
		l.Infof("driver=%s status bytes=%d payload=%x", name, len(b), b)
	}
	return ld, nil
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
