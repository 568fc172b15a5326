package rig

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRigctld answers extended commands like rigctld does.
type fakeRigctld struct {
	ln net.Listener

	mu       sync.Mutex
	received []string
	dcd      string
	failMem  bool
	hang     bool
}

func startFakeRigctld(t *testing.T) *fakeRigctld {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeRigctld{ln: ln, dcd: "0"}
	t.Cleanup(func() { _ = ln.Close() })

	go f.serve()

	return f
}

func (f *fakeRigctld) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}

		go f.handle(conn)
	}
}

func (f *fakeRigctld) handle(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}

		cmd := strings.TrimSpace(line)

		f.mu.Lock()
		f.received = append(f.received, cmd)
		dcd, failMem, hang := f.dcd, f.failMem, f.hang
		f.mu.Unlock()

		name, arg, _ := strings.Cut(strings.TrimPrefix(cmd, `+\`), " ")

		var reply string

		switch {
		case hang:
			continue
		case name == "get_dcd":
			reply = "get_dcd:\nDCD: " + dcd + "\nRPRT 0\n"
		case name == "set_mem" && failMem:
			reply = "set_mem: " + arg + "\nRPRT -11\n"
		default:
			reply = name + ": " + arg + "\nRPRT 0\n"
		}

		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func (f *fakeRigctld) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.received...)
}

func (f *fakeRigctld) set(apply func(*fakeRigctld)) {
	f.mu.Lock()
	apply(f)
	f.mu.Unlock()
}

// TestClient_Commands checks the wire format of every operation.
func TestClient_Commands(t *testing.T) {
	t.Parallel()

	f := startFakeRigctld(t)
	ctx := context.Background()

	c, err := Dial(ctx, Options{Address: f.ln.Addr().String(), SwitchToMemoryMode: true})
	require.NoError(t, err)

	defer c.Close()

	require.NoError(t, c.SetChannel(ctx, 7))
	require.NoError(t, c.SetPTT(ctx, TX))
	require.NoError(t, c.SetPTT(ctx, RX))

	busy, err := c.ChannelBusy(ctx)
	require.NoError(t, err)
	require.False(t, busy)

	f.set(func(f *fakeRigctld) { f.dcd = "1" })

	busy, err = c.ChannelBusy(ctx)
	require.NoError(t, err)
	require.True(t, busy)

	require.Equal(t, []string{
		`+\set_vfo MEM`,
		`+\set_mem 7`,
		`+\set_ptt 1`,
		`+\set_ptt 0`,
		`+\get_dcd`,
		`+\get_dcd`,
	}, f.commands())
}

// TestClient_ProtocolError checks that a non-zero RPRT is reported.
func TestClient_ProtocolError(t *testing.T) {
	t.Parallel()

	f := startFakeRigctld(t)
	f.set(func(f *fakeRigctld) { f.failMem = true })

	c, err := Dial(context.Background(), Options{Address: f.ln.Addr().String()})
	require.NoError(t, err)

	defer c.Close()

	err = c.SetChannel(context.Background(), 3)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, -11, perr.Code)

	f.set(func(f *fakeRigctld) { f.dcd = "x" })

	_, err = c.ChannelBusy(context.Background())
	require.ErrorIs(t, err, ErrMalformedResponse)
}

// TestClient_DisablePTT checks that PTT commands are not sent.
func TestClient_DisablePTT(t *testing.T) {
	t.Parallel()

	f := startFakeRigctld(t)

	c, err := Dial(context.Background(), Options{Address: f.ln.Addr().String(), DisablePTT: true})
	require.NoError(t, err)

	defer c.Close()

	require.NoError(t, c.SetPTT(context.Background(), TX))
	require.Empty(t, f.commands())
}

// TestClient_TimeoutAndReconnect checks the operation deadline and recovery.
func TestClient_TimeoutAndReconnect(t *testing.T) {
	t.Parallel()

	f := startFakeRigctld(t)
	f.set(func(f *fakeRigctld) { f.hang = true })

	c, err := Dial(context.Background(), Options{Address: f.ln.Addr().String(), Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	defer c.Close()

	err = c.SetChannel(context.Background(), 1)
	require.ErrorIs(t, err, ErrConnection)

	f.set(func(f *fakeRigctld) { f.hang = false })
	require.NoError(t, c.SetChannel(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	f.set(func(f *fakeRigctld) { f.hang = true })

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err = c.SetChannel(ctx, 2)
	require.ErrorIs(t, err, context.Canceled)
}

// TestDial_Unreachable checks connection errors.
func TestDial_Unreachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), Options{Address: addr, Timeout: time.Second})
	require.ErrorIs(t, err, ErrConnection)
}
