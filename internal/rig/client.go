package rig

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arthur326/ARMS/internal/logger"
)

// PTT is a push-to-talk state.
type PTT int

// PTT states as numbered by rigctld.
const (
	RX PTT = iota
	TX
	TXMic
	TXData
)

// DefaultTimeout bounds one rig operation when Options.Timeout is unset.
const DefaultTimeout = 7 * time.Second

var (
	// ErrConnection wraps socket failures, including a socket closed by rigctld.
	ErrConnection = errors.New("rigctld connection error")
	// ErrMalformedResponse is returned when a reply lacks an expected record.
	ErrMalformedResponse = errors.New("malformed rigctld response")
)

// ProtocolError is a non-zero RPRT code returned by rigctld.
type ProtocolError struct {
	Command string
	Code    int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rigctld %q returned RPRT %d", e.Command, e.Code)
}

// Options configures a Client.
type Options struct {
	// Address is the rigctld host:port.
	Address string
	// Timeout bounds each operation.
	Timeout time.Duration
	// SwitchToMemoryMode selects memory mode right after connecting.
	SwitchToMemoryMode bool
	// DisablePTT turns SetPTT into a no-op.
	DisablePTT bool
}

// Client is a rigctld connection. It is safe for concurrent use; commands are serialized.
// After a connection error the next command reconnects.
type Client struct {
	opts Options

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to rigctld.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	c := &Client{opts: opts}

	c.mu.Lock()
	err := c.connectLocked(ctx)
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.opts.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", c.opts.Address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnection, c.opts.Address, err)
	}

	c.conn = conn
	c.r = bufio.NewReader(conn)

	if c.opts.SwitchToMemoryMode {
		if _, err := c.exchangeLocked(ctx, `\set_vfo MEM`); err != nil {
			c.dropLocked()
			return err
		}
	}

	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}

	c.conn = nil
	c.r = nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.r = nil

	return err
}

// SetChannel selects memory channel ch.
func (c *Client) SetChannel(ctx context.Context, ch int) error {
	_, err := c.command(ctx, `\set_mem `+strconv.Itoa(ch))

	return err
}

// SetPTT keys or unkeys the transmitter.
func (c *Client) SetPTT(ctx context.Context, ptt PTT) error {
	if c.opts.DisablePTT {
		logger.DebugKV(ctx, "PTT disabled, not switching", "ptt", int(ptt))
		return nil
	}

	_, err := c.command(ctx, `\set_ptt `+strconv.Itoa(int(ptt)))

	return err
}

// ChannelBusy reports whether the squelch is open on the current channel.
func (c *Client) ChannelBusy(ctx context.Context) (bool, error) {
	records, err := c.command(ctx, `\get_dcd`)
	if err != nil {
		return false, err
	}

	value, ok := records["DCD"]
	if !ok {
		return false, fmt.Errorf("%w: no DCD record", ErrMalformedResponse)
	}

	dcd, err := strconv.Atoi(value)
	if err != nil {
		return false, fmt.Errorf("%w: DCD %q", ErrMalformedResponse, value)
	}

	return dcd == 1, nil
}

// command sends an extended command and returns the records of the reply.
func (c *Client) command(ctx context.Context, cmd string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	records, err := c.exchangeLocked(ctx, cmd)
	if errors.Is(err, ErrConnection) {
		c.dropLocked()
	}

	return records, err
}

func (c *Client) exchangeLocked(ctx context.Context, cmd string) (map[string]string, error) {
	deadline := time.Now().Add(c.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	// Unblock the socket when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := c.conn.Write([]byte("+" + cmd + "\n")); err != nil {
		return nil, c.connErr(ctx, err)
	}

	records := make(map[string]string)

	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return nil, c.connErr(ctx, err)
		}

		line = strings.TrimRight(line, "\r\n")

		if code, ok := strings.CutPrefix(line, "RPRT "); ok {
			n, err := strconv.Atoi(strings.TrimSpace(code))
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
			}

			logger.DebugKV(ctx, "rigctld reply", "command", cmd, "records", records, "rprt", n)

			if n != 0 {
				return nil, &ProtocolError{Command: cmd, Code: n}
			}

			return records, nil
		}

		if key, value, ok := strings.Cut(line, ": "); ok {
			records[key] = strings.TrimSpace(value)
		}
	}
}

func (c *Client) connErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrConnection, ctxErr)
	}

	return fmt.Errorf("%w: %w", ErrConnection, err)
}
