// Package nmea decodes and encodes the two NMEA-0183 sentence kinds this
// relay acts on: RMC (Recommended Minimum Navigation, decoded via
// go-nmea) and RTH (Cerulean's vendor acoustic-fix sentence, which no
// general-purpose NMEA library knows about and is decoded directly here).
// All other sentence types are the caller's concern to ignore; this
// package never tries to recognize them.
package nmea

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	gonmea "github.com/adrianmo/go-nmea"
)

// Error kinds surfaced to callers, matching the disposition table the
// relay's line handlers switch on.
var (
	ErrBadChecksum         = errors.New("nmea: bad checksum")
	ErrUnknownSentenceType = errors.New("nmea: unknown sentence type")
	ErrMalformed           = errors.New("nmea: malformed sentence")
)

// SentenceType returns the 3-character sentence type (e.g. "RMC", "RTH")
// from a raw line, without doing a full parse or checksum check. Line
// handlers use this to cheaply skip sentences they don't care about
// before paying for DecodeRMC/DecodeRTH.
func SentenceType(line string) string {
	if len(line) < 6 {
		return ""
	}
	return line[3:6]
}

// RMC is the subset of a Recommended Minimum Navigation sentence this
// relay needs. Fields holds the raw, un-reparsed comma-delimited data
// fields in wire order (Fields[0]=time, Fields[1]=status, Fields[2:6]=
// lat/hemisphere/lon/hemisphere, Fields[6]=speed, Fields[7]=course,
// Fields[8:]=date/magvar/magvar-direction/mode) so that a combiner can
// preserve the fields it doesn't touch byte-for-byte.
type RMC struct {
	Fields    []string
	Latitude  float64 // decimal degrees, positive north
	Longitude float64 // decimal degrees, positive east
	Valid     bool    // wire status field is "A"
}

// RTH is a Cerulean USBL acoustic fix: compass bearing, slant range to the
// transponder, and true elevation above (positive) or below (negative)
// horizontal.
type RTH struct {
	CompassBearing float64 // degrees, 0=north, 90=east
	SlantRange     float64 // metres
	TrueElevation  float64 // degrees
}

// DecodeRMC parses and checksum-verifies a raw RMC line. Checksum and
// grammar validation is delegated to go-nmea; the raw field slice used for
// byte-exact preservation on re-encode is split independently so the
// caller keeps the sentence's original field formatting.
func DecodeRMC(line string) (RMC, error) {
	sentence, err := gonmea.Parse(line)
	if err != nil {
		return RMC{}, classify(err)
	}
	rmc, ok := sentence.(gonmea.RMC)
	if !ok {
		return RMC{}, fmt.Errorf("%w: decoded %T, not RMC", ErrUnknownSentenceType, sentence)
	}

	fields, err := dataFields(line)
	if err != nil {
		return RMC{}, err
	}
	if len(fields) < 11 {
		return RMC{}, fmt.Errorf("%w: rmc has %d data fields, want at least 11", ErrMalformed, len(fields))
	}

	return RMC{
		Fields:    fields,
		Latitude:  rmc.Latitude,
		Longitude: rmc.Longitude,
		Valid:     strings.EqualFold(rmc.Validity, "A"),
	}, nil
}

// EncodeRMC serializes an RMC back into a GNRMC wire sentence with a
// freshly computed checksum, matching the layout
// $GNRMC,<fields...>*<CS>\r\n.
func EncodeRMC(r RMC) string {
	parts := append([]string{"GNRMC"}, r.Fields...)
	body := strings.Join(parts, ",")
	cs := checksum(body)
	return fmt.Sprintf("$%s*%02X\r\n", body, cs)
}

// dataFields splits a raw NMEA line into its data fields, dropping the
// leading "$<talker><type>" field and the trailing checksum.
func dataFields(line string) ([]string, error) {
	body := strings.TrimPrefix(line, "$")
	star := strings.LastIndexByte(body, '*')
	if star < 0 {
		return nil, fmt.Errorf("%w: no checksum delimiter", ErrMalformed)
	}
	fields := strings.Split(body[:star], ",")
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: too few fields", ErrMalformed)
	}
	return fields[1:], nil
}

func checksum(data string) byte {
	var c byte
	for i := 0; i < len(data); i++ {
		c ^= data[i]
	}
	return c
}

func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "checksum"):
		return fmt.Errorf("%w: %v", ErrBadChecksum, err)
	case strings.Contains(msg, "not supported") || strings.Contains(msg, "unknown"):
		return fmt.Errorf("%w: %v", ErrUnknownSentenceType, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// parseFloatField is a small helper shared by RTH decoding for the
// three numeric fields it cares about.
func parseFloatField(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}
