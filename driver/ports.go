package driver

import (
	"sort"

	"github.com/juju/errors"
)

// Well-known MALOS driver base ports. Each driver reserves four
// consecutive ports: base=config push, +1=heartbeat, +2=status/error
// subscribe, +3=data subscribe.
const (
	PortIMU          uint16 = 20013
	PortHumidity     uint16 = 20017
	PortEverloop     uint16 = 20021
	PortPressure     uint16 = 20025
	PortUV           uint16 = 20029
	PortMicArrayAlsa uint16 = 20037
	PortFace         uint16 = 60001
)

var portByName = map[string]uint16{
	"IMU":           PortIMU,
	"HUMIDITY":      PortHumidity,
	"EVERLOOP":      PortEverloop,
	"PRESSURE":      PortPressure,
	"UV":            PortUV,
	"MICARRAY_ALSA": PortMicArrayAlsa,
	"FACE":          PortFace,
}

// PortByName resolves a driver name to its base port.
func PortByName(name string) (uint16, error) {
	if p, ok := portByName[name]; ok {
		return p, nil
	}
	return 0, errors.NotFoundf("driver name=%s", name)
}

// Names lists known driver names, sorted, for usage text.
func Names() []string {
	ns := make([]string, 0, len(portByName))
	for n := range portByName {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}
