// Package controller wires the GPS and USBL serial workers, the shared
// outbound UDP socket, and the coordinate kernel together into the
// relay's single mutable point of control: device paths and destination
// addresses are set here, and every observable change fans out through
// one callback.
package controller

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/usbl-relay/pkg/coord"
	"github.com/bramburn/usbl-relay/pkg/nmea"
	"github.com/bramburn/usbl-relay/pkg/serialworker"
	"github.com/bramburn/usbl-relay/pkg/udpsink"
)

const (
	gpsBaud     = 4800
	usblBaud    = 115200
	readTimeout = 300 * time.Millisecond
)

// ChangeFunc observes changes to the controller's four tunables: the two
// device paths and the two destination addresses. key is one of
// "dev_gps", "dev_usbl", "addr_echo",
// "addr_mav". value is the new value, or "" when cleared.
type ChangeFunc func(key, value string)

// Controller is the relay's top-level state holder: two serial workers,
// the most recently valid GPS fix, two optional UDP destinations, and a
// shared outbound socket.
type Controller struct {
	logger logrus.FieldLogger
	sink   *udpsink.Sink

	gpsWorker  *serialworker.Worker
	usblWorker *serialworker.Worker

	lastRMC     atomic.Pointer[nmea.RMC]
	addrEcho    atomic.Pointer[net.UDPAddr]
	addrMAV     atomic.Pointer[net.UDPAddr]
	devGPSPath  atomic.Pointer[string]
	devUSBLPath atomic.Pointer[string]

	onChange atomic.Pointer[ChangeFunc]
}

// New opens the shared outbound UDP socket and starts both serial
// workers with no device bound yet.
func New(logger logrus.FieldLogger) (*Controller, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	sink, err := udpsink.New(logger)
	if err != nil {
		return nil, fmt.Errorf("controller: open udp sink: %w", err)
	}

	c := &Controller{logger: logger, sink: sink}

	c.gpsWorker = serialworker.New(serialworker.Config{
		Name:      "gps",
		OnLine:    c.handleGPSLine,
		OnChanged: c.makeDeviceChanged("dev_gps", &c.devGPSPath),
		Logger:    logger,
	})
	c.usblWorker = serialworker.New(serialworker.Config{
		Name:      "usbl",
		OnLine:    c.handleUSBLLine,
		OnChanged: c.makeDeviceChanged("dev_usbl", &c.devUSBLPath),
		Logger:    logger,
	})

	return c, nil
}

// SetChangeCallback installs the single observer invoked whenever an
// observable field changes. Passing nil removes the observer.
func (c *Controller) SetChangeCallback(fn ChangeFunc) {
	if fn == nil {
		c.onChange.Store(nil)
		return
	}
	c.onChange.Store(&fn)
}

func (c *Controller) fireChange(key, value string) {
	if p := c.onChange.Load(); p != nil {
		(*p)(key, value)
	}
}

// SetGPSDevice binds or clears the GPS serial device. path == "" closes
// the port without reopening.
func (c *Controller) SetGPSDevice(path string) {
	c.rebindDevice(c.gpsWorker, path, gpsBaud)
}

// SetUSBLDevice binds or clears the USBL serial device.
func (c *Controller) SetUSBLDevice(path string) {
	c.rebindDevice(c.usblWorker, path, usblBaud)
}

func (c *Controller) rebindDevice(w *serialworker.Worker, path string, baud int) {
	if path == "" {
		_ = w.Rebind(nil)
		return
	}
	_ = w.Rebind(&serialworker.OpenParams{
		Path:        path,
		BaudRate:    baud,
		Exclusive:   true,
		ReadTimeout: readTimeout,
	})
}

func (c *Controller) makeDeviceChanged(key string, slot *atomic.Pointer[string]) serialworker.DeviceChangedFunc {
	return func(path string) {
		slot.Store(&path)
		c.fireChange(key, path)
	}
}

// SetEchoAddr parses and installs the echo destination. An empty string
// clears it. A parse failure leaves the previous value unchanged and is
// returned to the caller.
func (c *Controller) SetEchoAddr(hostport string) error {
	return c.setAddr(&c.addrEcho, "addr_echo", hostport)
}

// SetMAVAddr parses and installs the MAV destination. An empty string
// clears it.
func (c *Controller) SetMAVAddr(hostport string) error {
	return c.setAddr(&c.addrMAV, "addr_mav", hostport)
}

func (c *Controller) setAddr(slot *atomic.Pointer[net.UDPAddr], key, hostport string) error {
	addr, err := udpsink.ResolveAddr(hostport)
	if err != nil {
		return fmt.Errorf("controller: parse %s: %w", key, err)
	}
	slot.Store(addr)
	c.fireChange(key, hostport)
	return nil
}

// handleGPSLine echoes the raw bytes first so a parse failure never
// suppresses the echo, then decodes the line and publishes it as
// last_rmc only when the fix is valid.
func (c *Controller) handleGPSLine(line string) {
	if addr := c.addrEcho.Load(); addr != nil {
		c.sink.Send(addr, []byte(line+"\r\n"))
	}

	if nmea.SentenceType(line) != "RMC" {
		return
	}
	rmc, err := nmea.DecodeRMC(line)
	if err != nil {
		c.logger.WithError(err).Debug("discarding unparseable gps line")
		return
	}
	if !rmc.Valid {
		c.logger.Info("no GPS fix")
		return
	}
	c.lastRMC.Store(&rmc)
}

// handleUSBLLine combines the snapshotted last fix with the incoming
// acoustic fix and forwards the synthesized RMC to addr_mav, if both
// are available.
func (c *Controller) handleUSBLLine(line string) {
	if nmea.SentenceType(line) != "RTH" {
		return
	}
	rth, err := nmea.DecodeRTH(line)
	if err != nil {
		c.logger.WithError(err).Debug("discarding unparseable usbl line")
		return
	}

	rmcPtr := c.lastRMC.Load()
	if rmcPtr == nil {
		c.logger.Info("ignoring RTH because RMC is not ready yet")
		return
	}
	addr := c.addrMAV.Load()
	if addr == nil {
		return
	}

	combined, err := coord.Combine(*rmcPtr, rth)
	if err != nil {
		c.logger.WithError(err).Warn("combine failed")
		return
	}
	c.sink.Send(addr, []byte(nmea.EncodeRMC(combined)))
}

// Close shuts down both serial workers and releases the outbound socket.
func (c *Controller) Close() {
	c.gpsWorker.Shutdown()
	c.usblWorker.Shutdown()
	_ = c.sink.Close()
}
