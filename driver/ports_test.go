package driver

import (
	"sort"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortByName(t *testing.T) {
	t.Parallel()

	p, err := PortByName("IMU")
	require.NoError(t, err)
	assert.Equal(t, PortIMU, p)

	p, err = PortByName("EVERLOOP")
	require.NoError(t, err)
	assert.Equal(t, PortEverloop, p)

	_, err = PortByName("imu")
	assert.True(t, errors.IsNotFound(err), "names are case sensitive")
	_, err = PortByName("TOASTER")
	assert.True(t, errors.IsNotFound(err))
}

func TestNames(t *testing.T) {
	t.Parallel()

	ns := Names()
	assert.Len(t, ns, 7)
	assert.True(t, sort.StringsAreSorted(ns))
	assert.Contains(t, ns, "MICARRAY_ALSA")
}

func TestKeepAliveErrorMessage(t *testing.T) {
	t.Parallel()

	e := &KeepAliveError{Silence: 600, Window: 500}
	assert.Contains(t, e.Error(), "keepalive timeout")
}
