package peerlink

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/directmesh-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/directmesh-go/pkg/wire"
)

// incomingPair returns a started Incoming and the raw client socket on the other end.
func incomingPair(t *testing.T, cfg *Config, rec *recorder) (*Incoming, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err == nil {
			accepted <- nc
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}

	in := NewIncoming(server, cfg, rec.sink, testEnv(t))
	in.Start()
	t.Cleanup(in.Destroy)
	return in, client
}

func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	frame, err := r.ReadString(wire.FrameSeparator[0])
	require.NoError(t, err)
	return frame[:len(frame)-1]
}

func TestIncoming_EmitsOneEventPerFrame(t *testing.T) {
	rec := newRecorder()
	in, client := incomingPair(t, testConfig(), rec)

	assert.Equal(t, peerlink.Incoming, in.Direction())
	assert.Equal(t, peerlink.Open, in.State())
	assert.Equal(t, client.LocalAddr().String(), in.RemoteURL())

	_, err := client.Write([]byte("Sorders\x1cMord"))
	require.NoError(t, err)
	_, err = client.Write([]byte("ers\x1d{}\x1c"))
	require.NoError(t, err)

	assert.Equal(t, "Sorders", rec.waitFor(t, peerlink.EventMessage).Frame)
	ev := rec.waitFor(t, peerlink.EventMessage)
	assert.Equal(t, "Morders\x1d{}", ev.Frame)
	assert.Same(t, in, ev.Conn)
}

func TestConnection_SendAppendsSeparator(t *testing.T) {
	rec := newRecorder()
	in, client := incomingPair(t, testConfig(), rec)

	require.NoError(t, in.Send("Sorders"))
	require.NoError(t, in.Send("Uorders"))

	r := bufio.NewReader(client)
	assert.Equal(t, "Sorders", readFrame(t, r))
	assert.Equal(t, "Uorders", readFrame(t, r))
}

func TestConnection_CloseFrameClosesLink(t *testing.T) {
	rec := newRecorder()
	in, client := incomingPair(t, testConfig(), rec)

	_, err := client.Write([]byte(wire.CloseFrame + wire.FrameSeparator))
	require.NoError(t, err)

	rec.waitFor(t, peerlink.EventClosed)
	assert.True(t, in.IsClosed())
	assert.Empty(t, rec.frames())
	assert.Equal(t, 0, rec.count(peerlink.EventError))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnection_RemoteHangupEmitsClosedOnly(t *testing.T) {
	rec := newRecorder()
	in, client := incomingPair(t, testConfig(), rec)

	require.NoError(t, client.Close())

	rec.waitFor(t, peerlink.EventClosed)
	assert.True(t, in.IsClosed())
	assert.Equal(t, 0, rec.count(peerlink.EventError))
	assert.ErrorIs(t, in.Send("Sx"), ErrConnectionClosed)
}

func TestConnection_DestroyIsIdempotent(t *testing.T) {
	rec := newRecorder()
	in, _ := incomingPair(t, testConfig(), rec)

	in.Destroy()
	in.Destroy()
	rec.waitFor(t, peerlink.EventClosed)
	in.Destroy()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count(peerlink.EventClosed))
	assert.Equal(t, 0, rec.count(peerlink.EventError))
	assert.True(t, in.IsClosed())
	assert.ErrorIs(t, in.Send("Sx"), ErrConnectionClosed)
}

func TestConnection_NoMessagesAfterDestroy(t *testing.T) {
	rec := newRecorder()
	in, client := incomingPair(t, testConfig(), rec)

	in.Destroy()
	_, _ = client.Write([]byte("Sa\x1cSb\x1c"))

	rec.waitFor(t, peerlink.EventClosed)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.frames())
}

func TestConnection_DestroyFlushesQueuedFrames(t *testing.T) {
	rec := newRecorder()
	in, client := incomingPair(t, testConfig(), rec)

	require.NoError(t, in.Send(wire.RejectFrame(wire.ReasonInvalidSecurityToken)))
	in.Destroy()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)
	assert.Equal(t, "RINVALID_SECURITY_TOKEN", readFrame(t, r))
	_, err := r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnection_OversizedFrameIsAnError(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFrameSize = 16
	rec := newRecorder()
	in, client := incomingPair(t, cfg, rec)

	_, err := client.Write(make([]byte, 64))
	require.NoError(t, err)

	ev := rec.waitFor(t, peerlink.EventError)
	assert.ErrorIs(t, ev.Err, bufio.ErrTooLong)
	rec.waitFor(t, peerlink.EventClosed)
	assert.True(t, in.IsClosed())
}

func TestConnection_SendQueueFull(t *testing.T) {
	c := newConnection(peerlink.Incoming, &Config{SendQueueSize: 1}, func(peerlink.Event) {}, testEnv(t))
	server, client := net.Pipe()
	defer client.Close()
	sess := c.attach(server)
	require.NotNil(t, sess)
	defer c.Destroy()

	// writer not started, so the queue only drains on Destroy
	require.NoError(t, c.Send("Sa"))
	assert.ErrorIs(t, c.Send("Sb"), ErrSendQueueFull)
}

func TestConnection_SendBeforeConnect(t *testing.T) {
	c := newConnection(peerlink.Outgoing, testConfig(), func(peerlink.Event) {}, testEnv(t))
	assert.Equal(t, peerlink.Connecting, c.State())
	assert.ErrorIs(t, c.Send("Sa"), ErrNotConnected)
}

func TestConnection_RejectedFlag(t *testing.T) {
	c := newConnection(peerlink.Outgoing, testConfig(), func(peerlink.Event) {}, testEnv(t))
	assert.False(t, c.IsRejected())
	c.MarkRejected()
	assert.True(t, c.IsRejected())

	c.SetRemoteUID("peer-1")
	assert.Equal(t, "peer-1", c.RemoteUID())
}
