package controller

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bramburn/usbl-relay/pkg/serialworker"
	"github.com/bramburn/usbl-relay/pkg/udpsink"
)

// fakePort is a scripted Port that yields one line per Read call from a
// fixed queue, then blocks (returns 0, nil) forever.
type fakePort struct {
	mock.Mock
	lines [][]byte
	idx   int
}

func newFakePort(lines ...string) *fakePort {
	p := &fakePort{}
	for _, l := range lines {
		p.lines = append(p.lines, []byte(l+"\r\n"))
	}
	return p
}

func (p *fakePort) Read(buf []byte) (int, error) {
	if p.idx >= len(p.lines) {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	line := p.lines[p.idx]
	p.idx++
	return copy(buf, line), nil
}

func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *fakePort) Close() error                { return nil }

func newTestController(t *testing.T, gps, usbl *fakePort) (*Controller, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	sink, err := udpsink.New(logger)
	require.NoError(t, err)

	c := &Controller{logger: logger, sink: sink}

	c.gpsWorker = serialworker.New(serialworker.Config{
		Name:   "gps",
		Open:   func(serialworker.OpenParams) (serialworker.Port, error) { return gps, nil },
		OnLine: c.handleGPSLine,
		Logger: logger,
	})
	c.usblWorker = serialworker.New(serialworker.Config{
		Name:   "usbl",
		Open:   func(serialworker.OpenParams) (serialworker.Port, error) { return usbl, nil },
		OnLine: c.handleUSBLLine,
		Logger: logger,
	})

	t.Cleanup(c.Close)
	return c, hook
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readDatagram(t *testing.T, conn *net.UDPConn, timeout time.Duration) (string, bool) {
	t.Helper()
	buf := make([]byte, 1024)
	conn.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return "", false
	}
	return string(buf[:n]), true
}

const rmcValid = "$GNRMC,203637.00,A,4458.17333,N,09331.05019,W,0.606,,120919,,,A*70"
const rthEast = "$USRTH,90.0,1000,0*42"

func TestHappyRelay(t *testing.T) {
	gps := newFakePort(rmcValid)
	usbl := newFakePort(rthEast)
	c, _ := newTestController(t, gps, usbl)

	mav := listenLoopback(t)
	require.NoError(t, c.SetMAVAddr(mav.LocalAddr().String()))

	c.SetGPSDevice("/dev/fake-gps")
	time.Sleep(50 * time.Millisecond) // let the GPS fix land before USBL needs it
	c.SetUSBLDevice("/dev/fake-usbl")

	payload, ok := readDatagram(t, mav, time.Second)
	require.True(t, ok, "expected a MAV datagram")
	require.Contains(t, payload, "$GNRMC,203637.00,A,")
}

func TestInvalidFixIgnored(t *testing.T) {
	invalid := "$GNRMC,203637.00,V,4458.17333,N,09331.05019,W,0.606,,120919,,,N*68"
	gps := newFakePort(invalid)
	usbl := newFakePort(rthEast)
	c, hook := newTestController(t, gps, usbl)

	mav := listenLoopback(t)
	require.NoError(t, c.SetMAVAddr(mav.LocalAddr().String()))
	c.SetGPSDevice("/dev/fake-gps")
	c.SetUSBLDevice("/dev/fake-usbl")

	time.Sleep(50 * time.Millisecond)
	_, ok := readDatagram(t, mav, 200*time.Millisecond)
	require.False(t, ok, "no MAV datagram expected without a valid fix")

	found := false
	for _, e := range hook.AllEntries() {
		if e.Message == "no GPS fix" {
			found = true
		}
	}
	require.True(t, found)
}

func TestEchoPassthrough(t *testing.T) {
	lines := []string{
		"$GNRMC,203637.00,A,4458.17333,N,09331.05019,W,0.606,,120919,,,A*70",
		"$GNRMC,203638.00,A,4458.17333,N,09331.05019,W,0.606,,120919,,,A*7F",
		"$GNRMC,203639.00,A,4458.17333,N,09331.05019,W,0.606,,120919,,,A*7E",
	}
	gps := newFakePort(lines...)
	usbl := newFakePort()
	c, _ := newTestController(t, gps, usbl)

	echo := listenLoopback(t)
	require.NoError(t, c.SetEchoAddr(echo.LocalAddr().String()))
	c.SetGPSDevice("/dev/fake-gps")
	c.SetUSBLDevice("/dev/fake-usbl")

	for _, want := range lines {
		got, ok := readDatagram(t, echo, time.Second)
		require.True(t, ok)
		require.Equal(t, want+"\r\n", got)
	}
}

func TestUSBLBeforeRMC(t *testing.T) {
	gps := newFakePort()
	usbl := newFakePort(rthEast)
	c, hook := newTestController(t, gps, usbl)

	mav := listenLoopback(t)
	require.NoError(t, c.SetMAVAddr(mav.LocalAddr().String()))
	c.SetGPSDevice("/dev/fake-gps")
	c.SetUSBLDevice("/dev/fake-usbl")

	_, ok := readDatagram(t, mav, 200*time.Millisecond)
	require.False(t, ok)

	found := false
	for _, e := range hook.AllEntries() {
		if e.Message == "ignoring RTH because RMC is not ready yet" {
			found = true
		}
	}
	require.True(t, found)
}

// TestRebindSafety drives a single live worker through the
// close-old/open-new transition spec.md scenario 4 describes: setting
// dev_gps to a different path while streaming closes the old port,
// fires device-changed(none) then device-changed(new path), and the
// fix published afterwards comes only from the new port.
func TestRebindSafety(t *testing.T) {
	gpsA := newFakePort(rmcValid)
	secondLine := "$GNRMC,203638.00,A,4458.17333,N,09331.05019,W,0.606,,120919,,,A*7F"
	gpsB := newFakePort(secondLine)
	usbl := newFakePort()

	ports := map[string]*fakePort{
		"/dev/fake-gps-a": gpsA,
		"/dev/fake-gps-b": gpsB,
	}

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sink, err := udpsink.New(logger)
	require.NoError(t, err)
	c := &Controller{logger: logger, sink: sink}

	var changes []string
	c.gpsWorker = serialworker.New(serialworker.Config{
		Name: "gps",
		Open: func(params serialworker.OpenParams) (serialworker.Port, error) {
			return ports[params.Path], nil
		},
		OnLine:    c.handleGPSLine,
		OnChanged: func(path string) { changes = append(changes, path) },
		Logger:    logger,
	})
	c.usblWorker = serialworker.New(serialworker.Config{
		Name:   "usbl",
		Open:   func(serialworker.OpenParams) (serialworker.Port, error) { return usbl, nil },
		OnLine: c.handleUSBLLine,
		Logger: logger,
	})
	t.Cleanup(c.Close)

	c.SetGPSDevice("/dev/fake-gps-a")
	time.Sleep(30 * time.Millisecond)
	rmc := c.lastRMC.Load()
	require.NotNil(t, rmc)
	require.Equal(t, "203637.00", rmc.Fields[0])

	c.SetGPSDevice("/dev/fake-gps-b")
	time.Sleep(30 * time.Millisecond)

	require.Equal(t, []string{"/dev/fake-gps-a", "", "/dev/fake-gps-b"}, changes)
	rmc = c.lastRMC.Load()
	require.NotNil(t, rmc)
	require.Equal(t, "203638.00", rmc.Fields[0])
}

func TestBadChecksumDoesNotUpdateLastRMC(t *testing.T) {
	badChecksum := "$GNRMC,203637.00,A,4458.17333,N,09331.05019,W,0.606,,120919,,,A*00"
	gps := newFakePort(badChecksum)
	usbl := newFakePort(rthEast)
	c, _ := newTestController(t, gps, usbl)

	mav := listenLoopback(t)
	require.NoError(t, c.SetMAVAddr(mav.LocalAddr().String()))
	c.SetGPSDevice("/dev/fake-gps")
	c.SetUSBLDevice("/dev/fake-usbl")

	_, ok := readDatagram(t, mav, 300*time.Millisecond)
	require.False(t, ok, "no MAV datagram expected when the RMC never decoded")
}
