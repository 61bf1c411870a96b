// Package connection implements the driver's Link: one
// TCP (optionally TLS) socket to one address, with deadline-honoring reads
// and writes, wire-message framing, handshake/negotiation, and idle
// staleness detection.
package connection

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbdrift/topologycore/address"
	"github.com/dbdrift/topologycore/description"
	"github.com/dbdrift/topologycore/x/driver"
	"github.com/dbdrift/topologycore/x/driver/wiremessage"
)

// defaultMaxMessageSize is the cap applied before the handshake negotiates
// the server's real maxMessageSizeBytes.
const defaultMaxMessageSize = 48 * 1000 * 1000

var globalConnectionCount int64

// connection is a single Link. It satisfies driver.Connection.
type connection struct {
	id  string
	nc  net.Conn
	addr address.Address

	connected int32

	readTimeout        time.Duration
	writeTimeout       time.Duration
	idleTimeout        time.Duration
	idleDeadline       atomic.Value // time.Time
	maxMessageSize     uint32

	descMu sync.RWMutex
	desc   description.Server

	compressor wiremessage.CompressorID
	zlibLevel  int
	zstdLevel  int
	compressorSet bool
}

var _ driver.Connection = (*connection)(nil)
var _ driver.Expirable = (*connection)(nil)

func newConnection(addr address.Address, cfg *config) *connection {
	id := fmt.Sprintf("%s[-%d]", addr, atomic.AddInt64(&globalConnectionCount, 1))
	c := &connection{
		id:             id,
		addr:           addr,
		readTimeout:    cfg.socketTimeout,
		writeTimeout:   cfg.socketTimeout,
		idleTimeout:    cfg.idleTimeout,
		maxMessageSize: defaultMaxMessageSize,
		desc:           description.NewDefaultServer(addr),
	}
	return c
}

// connect establishes the TCP connection and, if configured, performs the
// TLS handshake immediately after.
func (c *connection) connect(ctx context.Context, cfg *config) error {
	dialer := &net.Dialer{Timeout: cfg.connectTimeout}
	nc, err := dialer.DialContext(ctx, c.addr.Network(), c.addr.String())
	if err != nil {
		return driver.NetworkError{Wrapped: err, Message: fmt.Sprintf("error dialing %s", c.addr)}
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(5 * time.Minute)
	}
	c.nc = nc

	if cfg.tlsConfig != nil {
		tlsNC, err := clientHandshake(ctx, nc, c.addr, cfg.tlsConfig, cfg.ocspOptions)
		if err != nil {
			_ = nc.Close()
			return driver.HandshakeError{Wrapped: err}
		}
		c.nc = tlsNC
	}

	atomic.StoreInt32(&c.connected, 1)
	c.bumpIdleDeadline()
	return nil
}

// WriteWireMessage writes one complete wire message, honoring the context
// deadline and the configured socket timeout. An oversized message fails
// before any bytes reach the socket.
func (c *connection) WriteWireMessage(ctx context.Context, wm []byte) error {
	if atomic.LoadInt32(&c.connected) != 1 {
		return driver.NetworkError{Wrapped: errors.New("connection closed"), Message: "failed to write"}
	}
	if c.maxMessageSize != 0 && uint32(len(wm)) > c.maxMessageSize {
		return driver.ProtocolError{
			Message: fmt.Sprintf("message length %d exceeds server limit %d", len(wm), c.maxMessageSize),
		}
	}
	if err := c.nc.SetWriteDeadline(c.deadline(ctx, c.writeTimeout)); err != nil {
		return driver.NetworkError{Wrapped: err, Message: "failed to set write deadline"}
	}

	if _, err := c.nc.Write(wm); err != nil {
		c.close()
		return c.wrapIOError(ctx, err, "unable to write wire message to network")
	}
	c.bumpIdleDeadline()
	return nil
}

// ReadWireMessage reads one complete wire message: the little-endian length
// prefix first, then the remainder, failing on lengths outside
// [HeaderLen, maxMessageSize].
func (c *connection) ReadWireMessage(ctx context.Context) ([]byte, error) {
	if atomic.LoadInt32(&c.connected) != 1 {
		return nil, driver.NetworkError{Wrapped: errors.New("connection closed"), Message: "failed to read"}
	}
	if err := c.nc.SetReadDeadline(c.deadline(ctx, c.readTimeout)); err != nil {
		return nil, driver.NetworkError{Wrapped: err, Message: "failed to set read deadline"}
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(c.nc, sizeBuf[:]); err != nil {
		c.close()
		return nil, c.wrapIOError(ctx, err, "unable to read message length")
	}
	size := int32(binary.LittleEndian.Uint32(sizeBuf[:]))
	if size < wiremessage.MinMsgLen {
		c.close()
		return nil, driver.ProtocolError{Message: fmt.Sprintf("malformed message length %d", size)}
	}
	if c.maxMessageSize != 0 && uint32(size) > c.maxMessageSize {
		c.close()
		return nil, driver.ProtocolError{
			Message: fmt.Sprintf("message length %d exceeds server limit %d", size, c.maxMessageSize),
		}
	}

	buf := make([]byte, size)
	copy(buf, sizeBuf[:])
	if _, err := io.ReadFull(c.nc, buf[4:]); err != nil {
		c.close()
		return nil, c.wrapIOError(ctx, err, "unable to read message body")
	}
	c.bumpIdleDeadline()
	return buf, nil
}

// deadline combines the context deadline with the configured socket timeout,
// taking whichever expires first.
func (c *connection) deadline(ctx context.Context, timeout time.Duration) time.Time {
	var deadline time.Time
	if timeout != 0 {
		deadline = time.Now().Add(timeout)
	}
	if ctxDL, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDL.Before(deadline)) {
		deadline = ctxDL
	}
	return deadline
}

func (c *connection) wrapIOError(ctx context.Context, err error, msg string) error {
	message := fmt.Sprintf("%s: connection(%s)", msg, c.id)
	ne := driver.NetworkError{Wrapped: err, Message: message}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() || ctx.Err() == context.DeadlineExceeded {
		return driver.NetworkTimeout{NetworkError: ne}
	}
	return ne
}

func (c *connection) bumpIdleDeadline() {
	if c.idleTimeout > 0 {
		c.idleDeadline.Store(time.Now().Add(c.idleTimeout))
	}
}

// Expired reports whether the link has sat idle past the configured
// socket-check interval.
func (c *connection) Expired() bool {
	if atomic.LoadInt32(&c.connected) != 1 {
		return true
	}
	deadline, ok := c.idleDeadline.Load().(time.Time)
	return ok && time.Now().After(deadline)
}

// Stale implements driver.Connection; stale links are discarded instead of
// being checked back into the pool.
func (c *connection) Stale() bool { return c.Expired() }

func (c *connection) close() {
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return
	}
	if c.nc != nil {
		_ = c.nc.Close()
	}
}

// Close implements driver.Connection.
func (c *connection) Close() error {
	c.close()
	return nil
}

// ID implements driver.Connection.
func (c *connection) ID() string { return c.id }

// Address implements driver.Connection.
func (c *connection) Address() string { return string(c.addr) }

// Description implements driver.Connection.
func (c *connection) Description() description.Server {
	c.descMu.RLock()
	defer c.descMu.RUnlock()
	return c.desc
}

// setMetadata installs the post-handshake server descriptor and the limits
// negotiated with it.
func (c *connection) setMetadata(desc description.Server) {
	c.descMu.Lock()
	c.desc = desc
	c.descMu.Unlock()
	if desc.MaxMessageSize != 0 {
		c.maxMessageSize = desc.MaxMessageSize
	}
}

// supportsWireVersion reports whether the negotiated window includes v,
// backing the Link's `supports(feature)` accessors.
func (c *connection) supportsWireVersion(v int32) bool {
	desc := c.Description()
	return desc.WireVersion != nil && desc.WireVersion.Includes(v)
}
