package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointURL(t *testing.T) {
	t.Parallel()

	ep := Endpoint{Host: "127.0.0.1", Port: 20013, Channel: ChannelConfig}
	assert.Equal(t, "tcp://127.0.0.1:20013", ep.URL())
	assert.Equal(t, "(config tcp://127.0.0.1:20013)", ep.String())

	ep = Endpoint{Host: "sensor.local", Port: 20016, Channel: ChannelData}
	assert.Equal(t, "tcp://sensor.local:20016", ep.URL())
}
