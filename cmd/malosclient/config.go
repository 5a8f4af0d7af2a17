package main

import (
	"io/ioutil"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"

	"github.com/matrix-io/malos-go/log2"
)

type Config struct {
	Host         string `hcl:"host"`
	KeepaliveSec int    `hcl:"keepalive_sec"`
	ConfigureSec int    `hcl:"configure_sec"`
	Debug        bool   `hcl:"debug"`

	Mqtt struct {
		Broker string `hcl:"broker"`
		Prefix string `hcl:"prefix"`
	} `hcl:"mqtt"`

	Drivers []DriverConfig `hcl:"driver"`
}

type DriverConfig struct {
	Name string `hcl:"name,key"`
	Port int    `hcl:"port"`
	// ConfigFile holds the serialized driver configuration pushed at
	// startup. Content is opaque to this tool.
	ConfigFile string `hcl:"config_file"`
}

func ReadConfigFile(path string) (*Config, error) {
	bs, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "config path=%s", path)
	}
	c := &Config{}
	if err := hcl.Unmarshal(bs, c); err != nil {
		return nil, errors.Annotatef(err, "config unmarshal path=%s", path)
	}
	return c, nil
}

func MustReadConfigFile(log *log2.Log, path string) *Config {
	c, err := ReadConfigFile(path)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
