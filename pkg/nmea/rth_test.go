package nmea

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRTHValid(t *testing.T) {
	rth, err := DecodeRTH("$USRTH,90.0,1000,0*42")
	require.NoError(t, err)
	assert.Equal(t, 90.0, rth.CompassBearing)
	assert.Equal(t, 1000.0, rth.SlantRange)
	assert.Equal(t, 0.0, rth.TrueElevation)
}

func TestDecodeRTHBadChecksum(t *testing.T) {
	_, err := DecodeRTH("$USRTH,90.0,1000,0*00")
	assert.True(t, errors.Is(err, ErrBadChecksum))
}

func TestDecodeRTHWrongSentenceType(t *testing.T) {
	_, err := DecodeRTH("$GNRMC,foo*1F")
	assert.True(t, errors.Is(err, ErrUnknownSentenceType))
}

func TestDecodeRTHMalformed(t *testing.T) {
	_, err := DecodeRTH("$USRTH,90.0*73")
	assert.True(t, errors.Is(err, ErrMalformed))
}
