// Command usbl-relay fuses GPS and USBL acoustic telemetry from two
// serial devices into the absolute position of a submerged transponder,
// forwarding the result (and optionally a raw GPS echo) over UDP.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bramburn/usbl-relay/internal/logging"
	"github.com/bramburn/usbl-relay/pkg/controller"
	"github.com/bramburn/usbl-relay/pkg/serialworker"
)

func main() {
	var (
		gpsPort   string
		usblPort  string
		echoAddr  string
		mavAddr   string
		logLevel  string
		listPorts bool
	)

	pflag.StringVarP(&gpsPort, "gps", "g", "", "Port of the gps device")
	pflag.StringVarP(&usblPort, "usbl", "u", "", "Port of the usbl device")
	pflag.StringVarP(&echoAddr, "echo", "e", "", "UDP address to pass GPS data through (host:port)")
	pflag.StringVarP(&mavAddr, "mav", "m", "", "UDP address to send amended GPS data to (host:port)")
	pflag.StringVarP(&logLevel, "log", "l", "info", "How verbose should we be? error|warning|info|debug")
	pflag.BoolVar(&listPorts, "list-ports", false, "List detected serial ports and exit")
	pflag.Parse()

	if listPorts {
		printPorts()
		return
	}

	if gpsPort == "" || usblPort == "" {
		usageError("GPS and USBL devices must be specified")
	}

	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		usageError(err.Error())
	}
	logger := logging.New(level)

	c, err := controller.New(logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to start controller")
	}
	c.SetChangeCallback(func(key, value string) {
		logger.WithField(key, value).Info("state changed")
	})

	c.SetGPSDevice(gpsPort)
	c.SetUSBLDevice(usblPort)
	if echoAddr != "" {
		if err := c.SetEchoAddr(echoAddr); err != nil {
			logger.WithError(err).Fatal("invalid echo address")
		}
	}
	if mavAddr != "" {
		if err := c.SetMAVAddr(mavAddr); err != nil {
			logger.WithError(err).Fatal("invalid mav address")
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	c.Close()
}

func printPorts() {
	ports, err := serialworker.ListPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error listing ports: %v\n", err)
		os.Exit(1)
	}
	for _, p := range ports {
		fmt.Println(p)
	}
}

func usageError(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Serial devices detected:")
	ports, err := serialworker.ListPorts()
	if err == nil {
		for _, p := range ports {
			fmt.Fprintln(os.Stderr, "  "+p)
		}
	}
	fmt.Fprintln(os.Stderr)
	pflag.Usage()
	os.Exit(2)
}
