package server

import (
	"context"
	"net"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// ListenWithIPv6Fallback binds a dual-stack listener on [::]:port and falls
// back to 0.0.0.0:port when the host has no IPv6 stack.
func ListenWithIPv6Fallback(app *fiber.App, port string, startupStart time.Time) error {
	logger := log.WithField("component", "listener")

	addrIPv6 := "[::]:" + port
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if network != "tcp6" {
				return nil
			}

			var sockErr error
			if controlErr := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, syscall.IPV6_V6ONLY, 0)
			}); controlErr != nil {
				return controlErr
			}
			return sockErr
		},
	}

	ln6, err := lc.Listen(context.Background(), "tcp6", addrIPv6)
	if err == nil {
		logger.WithFields(log.Fields{"addr": addrIPv6, "startup": time.Since(startupStart).String()}).Info("diagnostics server listening")
		return app.Listener(ln6)
	}
	logger.WithError(err).WithField("addr", addrIPv6).Warn("IPv6 bind failed, falling back to IPv4")

	addrIPv4 := "0.0.0.0:" + port
	ln4, err := net.Listen("tcp4", addrIPv4)
	if err != nil {
		logger.WithError(err).WithField("addr", addrIPv4).Error("IPv4 bind failed")
		return err
	}

	logger.WithFields(log.Fields{"addr": addrIPv4, "startup": time.Since(startupStart).String()}).Info("diagnostics server listening")
	return app.Listener(ln4)
}
