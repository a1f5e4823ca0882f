// Package serialworker owns a single serial device on a dedicated
// goroutine: it opens/closes the port in response to rebind commands and
// dispatches each received line to a caller-supplied handler. Only one
// port is ever open per worker, and rebinding never happens concurrently
// with a read.
package serialworker

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the subset of go.bug.st/serial's Port this worker depends on,
// narrowed so tests can inject a fake implementation instead of real
// hardware.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenFunc opens a serial port. The production implementation is
// OpenSerial; tests substitute a fake that returns a mock Port.
type OpenFunc func(params OpenParams) (Port, error)

// OpenParams describes how to open a serial device.
type OpenParams struct {
	Path        string
	BaudRate    int
	Exclusive   bool
	ReadTimeout time.Duration
}

// LineHandler processes one decoded line from the device. It must not
// block for long: it runs on the worker's goroutine between reads.
type LineHandler func(line string)

// DeviceChangedFunc is invoked whenever the worker finishes opening or
// closing a port. path is empty when the device just closed.
type DeviceChangedFunc func(path string)

type command struct {
	id       uuid.UUID
	rebind   bool
	params   *OpenParams // nil means "close without reopening"
	shutdown bool
	done     chan struct{} // closed by the worker once processed, used by shutdown
}

// Worker owns one serial device across its lifetime.
type Worker struct {
	name        string
	open        OpenFunc
	onLine      LineHandler
	onChanged   DeviceChangedFunc
	logger      logrus.FieldLogger
	commands    chan command
	readBufSize int
	currentPort Port
}

// Config bundles a Worker's dependencies.
type Config struct {
	Name        string // used only for logging, e.g. "gps" or "usbl"
	Open        OpenFunc
	OnLine      LineHandler
	OnChanged   DeviceChangedFunc
	Logger      logrus.FieldLogger
	ReadBufSize int // defaults to 4096
}

// New starts a worker goroutine with no port open and returns immediately.
func New(cfg Config) *Worker {
	if cfg.Open == nil {
		cfg.Open = OpenSerial
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.ReadBufSize <= 0 {
		cfg.ReadBufSize = 4096
	}
	w := &Worker{
		name:        cfg.Name,
		open:        cfg.Open,
		onLine:      cfg.OnLine,
		onChanged:   cfg.OnChanged,
		logger:      cfg.Logger.WithField("worker", cfg.Name),
		commands:    make(chan command, 8),
		readBufSize: cfg.ReadBufSize,
	}
	go w.run()
	return w
}

// Rebind enqueues a port change. Passing nil params closes the currently
// open port (if any) without reopening. Non-blocking: it only fails if the
// worker's command queue (capacity 8) is full.
func (w *Worker) Rebind(params *OpenParams) error {
	id := uuid.New()
	select {
	case w.commands <- command{id: id, rebind: true, params: params}:
		w.logger.WithField("cmd", id).Debug("rebind enqueued")
		return nil
	default:
		return fmt.Errorf("serialworker: %s command queue full", w.name)
	}
}

// Shutdown enqueues a terminal command and blocks until the worker has
// closed any open port and exited its loop.
func (w *Worker) Shutdown() {
	id := uuid.New()
	done := make(chan struct{})
	w.commands <- command{id: id, shutdown: true, done: done}
	<-done
}

func (w *Worker) run() {
	for cmd := range w.commands {
		switch {
		case cmd.shutdown:
			w.closeCurrent()
			close(cmd.done)
			return
		case cmd.rebind:
			w.handleRebind(cmd)
		}
		w.drainLines()
	}
}

func (w *Worker) handleRebind(cmd command) {
	log := w.logger.WithField("cmd", cmd.id)

	if w.currentPort != nil {
		w.closeCurrent()
	}

	if cmd.params == nil {
		return
	}

	port, err := w.open(*cmd.params)
	if err != nil {
		log.WithError(err).Errorf("open %s failed", cmd.params.Path)
		return
	}
	w.currentPort = port
	log.Infof("opened %s", cmd.params.Path)
	if w.onChanged != nil {
		w.onChanged(cmd.params.Path)
	}
}

func (w *Worker) closeCurrent() {
	if w.currentPort == nil {
		return
	}
	_ = w.currentPort.Close()
	w.currentPort = nil
	w.logger.Info("closed port")
	if w.onChanged != nil {
		w.onChanged("")
	}
}

// drainLines reads and dispatches lines until the command channel has
// something pending or the port is gone / errors out.
func (w *Worker) drainLines() {
	buf := make([]byte, w.readBufSize)
	var pending []byte

	for w.currentPort != nil && len(w.commands) == 0 {
		n, err := w.currentPort.Read(buf)
		if err != nil {
			w.logger.WithError(err).Warn("read error, closing port")
			w.closeCurrent()
			return
		}
		if n == 0 {
			continue // read timeout, recheck command channel
		}
		pending = append(pending, buf[:n]...)

		for {
			idx := indexCRLF(pending)
			if idx < 0 {
				break
			}
			line := sanitizeASCII(pending[:idx])
			pending = pending[idx+2:]
			w.dispatch(line)
		}
	}
}

func (w *Worker) dispatch(line string) {
	if w.onLine == nil || line == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("line handler panicked: %v", r)
		}
	}()
	w.onLine(line)
}

func indexCRLF(b []byte) int {
	return strings.Index(string(b), "\r\n")
}

// sanitizeASCII decodes bytes as ASCII with replacement, so a stray
// non-ASCII byte from a noisy line never crashes the line handler.
func sanitizeASCII(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
		} else {
			sb.WriteRune('�')
		}
	}
	return sb.String()
}

// OpenSerial opens a real go.bug.st/serial port with the given parameters.
// Exclusive is advisory on platforms go.bug.st/serial doesn't support
// exclusive-open locking on; both GPS and USBL are always opened with it
// set, per spec.
func OpenSerial(params OpenParams) (Port, error) {
	mode := &serial.Mode{BaudRate: params.BaudRate}
	port, err := serial.Open(params.Path, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(params.ReadTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// ListPorts returns the names of detected serial ports, for the CLI's
// diagnostic device picker. It is peripheral to the relay itself.
func ListPorts() ([]string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return serial.GetPortsList()
	}
	names := make([]string, 0, len(details))
	for _, d := range details {
		names = append(names, d.Name)
	}
	return names, nil
}
