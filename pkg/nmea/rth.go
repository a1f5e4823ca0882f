package nmea

import (
	"fmt"
	"strings"
)

// DecodeRTH parses and checksum-verifies a Cerulean $..RTH sentence. RTH is
// a vendor sentence with no registered parser in go-nmea, so it is
// checksum-verified and field-split by hand (XOR of every byte between
// '$' and '*', the standard NMEA-0183 checksum algorithm).
func DecodeRTH(line string) (RTH, error) {
	if !strings.HasPrefix(line, "$") {
		return RTH{}, fmt.Errorf("%w: missing leading $", ErrMalformed)
	}
	star := strings.LastIndexByte(line, '*')
	if star < 0 || star+3 > len(line) {
		return RTH{}, fmt.Errorf("%w: missing checksum", ErrMalformed)
	}

	body := line[1:star]
	wantChecksum := strings.ToUpper(line[star+1 : star+3])
	gotChecksum := fmt.Sprintf("%02X", checksum(body))
	if wantChecksum != gotChecksum {
		return RTH{}, fmt.Errorf("%w: got %s want %s", ErrBadChecksum, wantChecksum, gotChecksum)
	}

	fields := strings.Split(body, ",")
	if len(fields) < 2 || !strings.HasSuffix(fields[0], "RTH") {
		return RTH{}, fmt.Errorf("%w: not an RTH sentence", ErrUnknownSentenceType)
	}
	data := fields[1:]
	if len(data) < 3 {
		return RTH{}, fmt.Errorf("%w: rth has %d fields, want at least 3", ErrMalformed, len(data))
	}

	cb, err := parseFloatField(data[0])
	if err != nil {
		return RTH{}, err
	}
	sr, err := parseFloatField(data[1])
	if err != nil {
		return RTH{}, err
	}
	te, err := parseFloatField(data[2])
	if err != nil {
		return RTH{}, err
	}

	return RTH{CompassBearing: cb, SlantRange: sr, TrueElevation: te}, nil
}
