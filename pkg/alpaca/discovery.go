package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DiscoveryPort    = 32227
	discoveryMessage = "alpacadiscovery1"
)

// DiscoveryResponder answers Alpaca discovery broadcasts with the port of the
// HTTP API.
type DiscoveryResponder struct {
	addr           string
	listenPort     int
	alpacaResponse []byte
	logger         log.FieldLogger
}

// NewDiscoveryResponder creates a discovery responder listening on addr at
// listenPort that advertises alpacaPort.
func NewDiscoveryResponder(addr string, listenPort, alpacaPort int, logger log.FieldLogger) *DiscoveryResponder {
	return &DiscoveryResponder{
		addr:           addr,
		listenPort:     listenPort,
		alpacaResponse: fmt.Appendf(nil, `{"AlpacaPort": %d}`, alpacaPort),
		logger:         logger,
	}
}

// reply returns the answer to a received datagram, or nil when the datagram
// is not a discovery request.
func (d *DiscoveryResponder) reply(data []byte) []byte {
	if !strings.Contains(string(data), discoveryMessage) {
		return nil
	}
	return d.alpacaResponse
}

// Run answers discovery requests until ctx is cancelled.
func (d *DiscoveryResponder) Run(ctx context.Context) error {
	deviceAddress, err := net.ResolveUDPAddr("udp", net.JoinHostPort(d.addr, strconv.Itoa(d.listenPort)))
	if err != nil {
		return fmt.Errorf("cannot resolve device address: %v", err)
	}

	sock, err := net.ListenUDP("udp", deviceAddress)
	if err != nil {
		return fmt.Errorf("cannot bind discovery socket: %v", err)
	}
	defer sock.Close()

	d.logger.Debugf("Discovery responder started on %s", sock.LocalAddr())

	buf := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Set a read deadline to periodically check for context cancellation
		sock.SetReadDeadline(time.Now().Add(time.Second))

		n, addr, err := sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			d.logger.Debugf("Error reading from socket: %v", err)
			continue
		}

		d.logger.Debugf("Received %q from %s", buf[:n], addr)
		if resp := d.reply(buf[:n]); resp != nil {
			if _, err := sock.WriteToUDP(resp, addr); err != nil {
				d.logger.Errorf("Error writing to socket: %v", err)
			}
		}
	}
}
