// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/smpctl/pkg/smp"
	"github.com/Thermoquad/smpctl/pkg/smp/smptest"
)

var session = smp.Session{StartWord: 0x12345678, MaxPacketSize: 64, ConnectionID: 7}

// scriptedConn replays canned input and records output
type scriptedConn struct {
	mu       sync.Mutex
	input    []byte
	written  bytes.Buffer
	writes   int
	readErr  error
	writeErr error

	deadlines []time.Time
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return 0, c.readErr
	}
	n := copy(p, c.input)
	c.input = c.input[n:]
	return n, nil
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.written.Write(p)
}

// deadlineConn also accepts read deadlines
type deadlineConn struct {
	scriptedConn
}

func (c *deadlineConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines = append(c.deadlines, t)
	return nil
}

func connect(t *testing.T, dev *smptest.Device, opts ...smp.Option) *smp.Channel {
	t.Helper()
	opts = append([]smp.Option{smp.WithTimeout(time.Second)}, opts...)
	ch := smp.NewChannel(dev, opts...)

	ctx := context.Background()
	require.NoError(t, ch.Handshake(ctx))
	st, err := ch.HandshakeAnswer(ctx)
	require.NoError(t, err)
	require.Equal(t, smp.LocalOk, st)
	return ch
}

func readAnswer(t *testing.T, ch *smp.Channel, action smp.Action) (smp.StatusCode, error) {
	t.Helper()
	buf := make([]byte, smp.AnswerSize)
	res, err := ch.ReadFrame(context.Background(), buf, action)
	require.NoError(t, err)
	return smp.ParseAnswer(smp.FormatActionType(action), buf, res)
}

func TestChannel_Handshake(t *testing.T) {
	dev := smptest.NewDevice(session)
	ch := smp.NewChannel(dev)
	assert.Equal(t, smp.StateUnconnected, ch.State())

	require.NoError(t, ch.Handshake(context.Background()))
	assert.Equal(t, smp.StateHandshaking, ch.State())

	st, err := ch.HandshakeAnswer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, smp.LocalOk, st)
	assert.Equal(t, smp.StateConnected, ch.State())

	got, ok := ch.Session()
	assert.True(t, ok)
	assert.Equal(t, session, got)
	assert.Equal(t, "305419896 64 7", ch.Values())
}

func TestChannel_HandshakeAnswerMismatch(t *testing.T) {
	answer := smp.AppendHandshakeAnswer(nil, session)
	answer[5] ^= 0x01
	conn := &scriptedConn{input: answer}

	ch := smp.NewChannel(conn, smp.WithTimeout(time.Second))
	require.NoError(t, ch.Handshake(context.Background()))
	assert.Equal(t, smp.HandshakePreamble(), conn.written.Bytes())

	st, err := ch.HandshakeAnswer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, smp.LocalHandshakeAnswerHeaderNotEqual, st)

	got, ok := ch.Session()
	assert.False(t, ok)
	assert.Equal(t, smp.Session{}, got)
	assert.NotEqual(t, smp.StateConnected, ch.State())
}

func TestChannel_HandshakePartialReads(t *testing.T) {
	dev := smptest.NewDevice(session)
	dev.ReadChunk = 3
	ch := connect(t, dev)

	got, _ := ch.Session()
	assert.Equal(t, session, got)
}

func TestChannel_HandshakeShortWrite(t *testing.T) {
	dev := smptest.NewDevice(session)
	dev.WriteLimit = 5
	ch := smp.NewChannel(dev)

	err := ch.Handshake(context.Background())
	assert.ErrorIs(t, err, smp.ErrWriteIncomplete)
	assert.Equal(t, smp.StateUnconnected, ch.State())
}

func TestChannel_HandshakeTimeout(t *testing.T) {
	dev := smptest.NewDevice(session)
	dev.Silent = true
	ch := smp.NewChannel(dev, smp.WithTimeout(20*time.Millisecond))

	require.NoError(t, ch.Handshake(context.Background()))
	start := time.Now()
	st, err := ch.HandshakeAnswer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, smp.LocalTimeout, st)
	assert.Less(t, time.Since(start), time.Second)
}

func TestChannel_Peripheral(t *testing.T) {
	dev := smptest.NewDevice(session)
	ch := connect(t, dev)

	msg, err := smp.NewLedMessage(2, smp.LEDOn)
	require.NoError(t, err)
	require.NoError(t, ch.Peripheral(context.Background(), msg))

	code, err := readAnswer(t, ch, smp.ActionPeripheral)
	require.NoError(t, err)
	assert.Equal(t, smp.StatusOk, code)
	assert.True(t, dev.LED(2))
	assert.False(t, dev.LED(1))
}

func TestChannel_PeripheralAll(t *testing.T) {
	dev := smptest.NewDevice(session)
	ch := connect(t, dev)

	msg, err := smp.NewLedMessage(smp.LEDAll, smp.LEDToggle)
	require.NoError(t, err)
	require.NoError(t, ch.Peripheral(context.Background(), msg))

	_, err = readAnswer(t, ch, smp.ActionPeripheral)
	require.NoError(t, err)
	for i := 0; i < smptest.DefaultLEDCount; i++ {
		assert.True(t, dev.LED(i), "led %d", i)
	}
}

func TestChannel_PeripheralNoSuchDevice(t *testing.T) {
	dev := smptest.NewDevice(session)
	ch := connect(t, dev)

	msg, err := smp.NewLedMessage(9, smp.LEDOn)
	require.NoError(t, err)
	require.NoError(t, ch.Peripheral(context.Background(), msg))

	code, err := readAnswer(t, ch, smp.ActionPeripheral)
	assert.Equal(t, smp.StatusNoSuchDevice, code)
	remote, ok := smp.RemoteStatusOf(err)
	require.True(t, ok)
	assert.Equal(t, smp.StatusNoSuchDevice, remote)
}

func TestChannel_LoadComplete(t *testing.T) {
	dev := smptest.NewDevice(session)
	stats := smp.NewStatistics()
	ch := connect(t, dev, smp.WithStatistics(stats))
	ctx := context.Background()

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	tr, err := smp.NewTransfer(payload)
	require.NoError(t, err)

	require.NoError(t, ch.StartLoad(ctx, tr))
	assert.Equal(t, smp.StateLoadingStart, ch.State())
	_, err = readAnswer(t, ch, smp.ActionStartLoad)
	require.NoError(t, err)

	// ceil(100 / (64 - 24)) chunks
	for i := 0; i < 3; i++ {
		st, err := ch.Load(ctx, tr)
		require.NoError(t, err)
		require.Equal(t, smp.LocalOk, st, "chunk %d", i)
		assert.Equal(t, smp.StateLoadingChunk, ch.State())

		_, err = readAnswer(t, ch, smp.ActionLoading)
		require.NoError(t, err, "chunk %d", i)
	}

	st, err := ch.Load(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalNothingToWrite, st)
	assert.Equal(t, smp.StateConnected, ch.State())

	// Completion acknowledgement
	_, err = readAnswer(t, ch, smp.ActionLoading)
	require.NoError(t, err)

	st, err = ch.Load(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalNothingToWrite, st)

	assert.Equal(t, uint32(100), tr.Written())
	assert.Equal(t, uint32(3), tr.NextPacketID())
	assert.Equal(t, payload, dev.Image())

	var ids []uint32
	var sizes []int
	for _, f := range dev.Requests() {
		if f.Header.Action() != smp.ActionLoading {
			continue
		}
		hdr, data, err := smp.ParseLoadChunk(f.Payload)
		require.NoError(t, err)
		assert.Equal(t, tr.Hash(), hdr.MsgHash)
		assert.LessOrEqual(t, len(f.Payload)+smp.HeaderSize, int(session.MaxPacketSize))
		ids = append(ids, hdr.PacketID)
		sizes = append(sizes, len(data))
	}
	assert.Equal(t, []uint32{0, 1, 2}, ids)
	assert.Equal(t, []int{40, 40, 20}, sizes)

	snap := stats.Snapshot()
	assert.Equal(t, uint64(3), snap.ChunksSent)
	assert.Equal(t, uint64(100), snap.BytesUploaded)
	assert.Zero(t, stats.ErrorCount())
}

func TestChannel_LoadPartialWrites(t *testing.T) {
	dev := smptest.NewDevice(session)
	ch := connect(t, dev)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("abcdefg"), 10)
	tr, err := smp.NewTransfer(payload)
	require.NoError(t, err)

	require.NoError(t, ch.StartLoad(ctx, tr))
	_, err = readAnswer(t, ch, smp.ActionStartLoad)
	require.NoError(t, err)

	dev.WriteLimit = 7
	for {
		st, err := ch.Load(ctx, tr)
		require.NoError(t, err)
		if st == smp.LocalNothingToWrite {
			break
		}
		require.Equal(t, smp.LocalOk, st)
		_, err = readAnswer(t, ch, smp.ActionLoading)
		require.NoError(t, err)
	}
	_, err = readAnswer(t, ch, smp.ActionLoading)
	require.NoError(t, err)
	assert.Equal(t, payload, dev.Image())
}

func TestChannel_LoadEmptyPayload(t *testing.T) {
	dev := smptest.NewDevice(session)
	ch := connect(t, dev)
	ctx := context.Background()

	tr, err := smp.NewTransfer(nil)
	require.NoError(t, err)
	require.NoError(t, ch.StartLoad(ctx, tr))
	_, err = readAnswer(t, ch, smp.ActionStartLoad)
	require.NoError(t, err)

	st, err := ch.Load(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalNothingToWrite, st)

	_, err = readAnswer(t, ch, smp.ActionLoading)
	require.NoError(t, err)
}

func TestChannel_LoadTooLarge(t *testing.T) {
	dev := smptest.NewDevice(session)
	dev.Capacity = 10
	ch := connect(t, dev)

	tr, err := smp.NewTransfer(make([]byte, 11))
	require.NoError(t, err)
	require.NoError(t, ch.StartLoad(context.Background(), tr))

	code, err := readAnswer(t, ch, smp.ActionStartLoad)
	require.Error(t, err)
	assert.Equal(t, smp.StatusNoMemory, code)
}

func TestChannel_StartLoadTinyPacketSize(t *testing.T) {
	dev := smptest.NewDevice(smp.Session{StartWord: 1, MaxPacketSize: smp.LoadHeaderSize, ConnectionID: 1})
	ch := connect(t, dev)

	tr, err := smp.NewTransfer([]byte{1})
	require.NoError(t, err)
	err = ch.StartLoad(context.Background(), tr)
	assert.ErrorIs(t, err, smp.ErrInvalidLength)
}

func injectConnected(t *testing.T) (*smptest.Device, *smp.Channel) {
	t.Helper()
	dev := smptest.NewDevice(session)
	return dev, connect(t, dev, smp.WithTimeout(200*time.Millisecond))
}

func TestReadFrame_Validation(t *testing.T) {
	other := session
	other.StartWord = 0xCAFEBABE
	otherID := session
	otherID.ConnectionID = 99

	tests := []struct {
		name   string
		frame  []byte
		want   smp.LocalStatus
		answer int
	}{
		{"wrong start word", smp.NewAnswer(&other, smp.ActionPeripheral, smp.StatusOk), smp.LocalWrongStartWord, smp.HeaderSize},
		{"wrong id", smp.NewAnswer(&otherID, smp.ActionPeripheral, smp.StatusOk), smp.LocalWrongID, smp.HeaderSize},
		{"wrong flags", smp.NewAnswer(&session, smp.ActionStartLoad, smp.StatusOk), smp.LocalWrongFlags, smp.HeaderSize},
		{"request instead of answer", smp.MustEncodeFrame(&session, smp.ActionPeripheral, []byte{0}), smp.LocalWrongFlags, smp.HeaderSize},
		{"too big", smp.MustEncodeFrame(&session, smp.Action(smp.ActionPeripheral.Expected()), make([]byte, 10)), smp.LocalBufferToSmall, smp.HeaderSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, ch := injectConnected(t)
			dev.Inject(tt.frame)
			dev.Inject(smp.NewAnswer(&session, smp.ActionPeripheral, smp.StatusOk))

			buf := bytes.Repeat([]byte{0xAA}, smp.AnswerSize)
			res, err := ch.ReadFrame(context.Background(), buf, smp.ActionPeripheral)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Local)
			assert.Equal(t, tt.answer, res.AnswerSize)
			assert.Equal(t, byte(0xAA), buf[smp.HeaderSize], "payload must not reach the caller's buffer")

			// The rejected frame was drained; the next one is intact
			res, err = ch.ReadFrame(context.Background(), buf, smp.ActionPeripheral)
			require.NoError(t, err)
			assert.Equal(t, smp.LocalOk, res.Local)
			assert.Equal(t, smp.AnswerSize, res.AnswerSize)
			assert.Zero(t, dev.Pending())
		})
	}
}

func TestReadFrame_WrongHash(t *testing.T) {
	dev, ch := injectConnected(t)
	bad := smp.NewAnswer(&session, smp.ActionPeripheral, smp.StatusOk)
	bad[smp.HeaderSize] = 0x01
	dev.Inject(bad)

	buf := make([]byte, smp.AnswerSize)
	res, err := ch.ReadFrame(context.Background(), buf, smp.ActionPeripheral)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalWrongHash, res.Local)
	assert.Equal(t, smp.AnswerSize, res.AnswerSize)
}

func TestReadFrame_CorruptedByDevice(t *testing.T) {
	dev, ch := injectConnected(t)
	dev.Corrupt = func(frame []byte) {
		frame[len(frame)-1] ^= 0x80
	}

	msg, _ := smp.NewLedMessage(0, smp.LEDOn)
	require.NoError(t, ch.Peripheral(context.Background(), msg))

	buf := make([]byte, smp.AnswerSize)
	res, err := ch.ReadFrame(context.Background(), buf, smp.ActionPeripheral)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalWrongHash, res.Local)
}

func TestReadFrame_ShortLengthDecidedByHash(t *testing.T) {
	dev, ch := injectConnected(t)
	frame := smp.NewAnswer(&session, smp.ActionBoot, smp.StatusOk)[:smp.HeaderSize]
	binary.LittleEndian.PutUint32(frame[4:8], 4)
	dev.Inject(frame)

	buf := make([]byte, smp.AnswerSize)
	res, err := ch.ReadFrame(context.Background(), buf, smp.ActionBoot)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalWrongHash, res.Local)
	assert.Equal(t, smp.HeaderSize, res.AnswerSize)
}

func TestReadFrame_Timeout(t *testing.T) {
	_, ch := injectConnected(t)

	buf := make([]byte, smp.AnswerSize)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := ch.ReadFrame(ctx, buf, smp.ActionPeripheral)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalTimeout, res.Local)
	assert.Zero(t, res.AnswerSize)
}

func TestReadFrame_TimeoutMidFrame(t *testing.T) {
	dev, ch := injectConnected(t)
	dev.Inject(smp.NewAnswer(&session, smp.ActionPeripheral, smp.StatusOk)[:10])

	buf := make([]byte, smp.AnswerSize)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := ch.ReadFrame(ctx, buf, smp.ActionPeripheral)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalTimeout, res.Local)
	assert.Equal(t, 10, res.AnswerSize)
}

func TestReadFrame_Canceled(t *testing.T) {
	_, ch := injectConnected(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ch.ReadFrame(ctx, make([]byte, smp.AnswerSize), smp.ActionPeripheral)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadFrame_SmallBuffer(t *testing.T) {
	_, ch := injectConnected(t)
	_, err := ch.ReadFrame(context.Background(), make([]byte, 8), smp.ActionPeripheral)
	assert.ErrorIs(t, err, smp.ErrInvalidLength)
}

func TestReadFrame_TransportError(t *testing.T) {
	conn := &scriptedConn{input: smp.AppendHandshakeAnswer(nil, session)}
	ch := smp.NewChannel(conn)
	require.NoError(t, ch.Handshake(context.Background()))
	_, err := ch.HandshakeAnswer(context.Background())
	require.NoError(t, err)

	conn.mu.Lock()
	conn.readErr = io.ErrClosedPipe
	conn.mu.Unlock()

	_, err = ch.ReadFrame(context.Background(), make([]byte, smp.AnswerSize), smp.ActionPeripheral)
	assert.True(t, smp.IsTransportError(err))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestReadFrame_ArmsTransportDeadline(t *testing.T) {
	conn := &deadlineConn{scriptedConn{input: smp.AppendHandshakeAnswer(nil, session)}}
	ch := smp.NewChannel(conn, smp.WithTimeout(time.Second))
	require.NoError(t, ch.Handshake(context.Background()))
	_, err := ch.HandshakeAnswer(context.Background())
	require.NoError(t, err)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.deadlines, 2)
	assert.False(t, conn.deadlines[0].IsZero())
	assert.True(t, conn.deadlines[1].IsZero())
}

func TestChannel_WrongState(t *testing.T) {
	conn := &scriptedConn{}
	ch := smp.NewChannel(conn)
	ctx := context.Background()
	tr, err := smp.NewTransfer([]byte{1, 2, 3})
	require.NoError(t, err)

	msg, _ := smp.NewLedMessage(0, smp.LEDOn)
	assert.ErrorIs(t, ch.Peripheral(ctx, msg), smp.ErrInvalidState)
	assert.ErrorIs(t, ch.StartLoad(ctx, tr), smp.ErrInvalidState)
	assert.ErrorIs(t, ch.Boot(ctx), smp.ErrInvalidState)
	_, err = ch.Load(ctx, tr)
	assert.ErrorIs(t, err, smp.ErrInvalidState)
	_, err = ch.HandshakeAnswer(ctx)
	assert.ErrorIs(t, err, smp.ErrInvalidState)
	_, err = ch.ReadFrame(ctx, make([]byte, smp.AnswerSize), smp.ActionPeripheral)
	assert.ErrorIs(t, err, smp.ErrInvalidState)

	assert.Zero(t, conn.writes, "transport must not be touched")
}

func TestChannel_LoadBeforeStartLoad(t *testing.T) {
	_, ch := injectConnected(t)
	tr, err := smp.NewTransfer([]byte{1})
	require.NoError(t, err)

	_, err = ch.Load(context.Background(), tr)
	assert.ErrorIs(t, err, smp.ErrInvalidState)
}

func TestChannel_Boot(t *testing.T) {
	dev := smptest.NewDevice(session)
	ch := connect(t, dev, smp.WithTimeout(30*time.Millisecond))

	require.NoError(t, ch.Boot(context.Background()))
	assert.True(t, dev.Booted())

	res, err := ch.ReadFrame(context.Background(), make([]byte, smp.AnswerSize), smp.ActionBoot)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalTimeout, res.Local)
	assert.Zero(t, res.AnswerSize)
}

func TestChannel_GoodbyeAndClose(t *testing.T) {
	dev := smptest.NewDevice(session)
	ch := connect(t, dev)

	assert.NoError(t, ch.Close())
	assert.Equal(t, smp.StateClosed, ch.State())
	assert.Equal(t, 1, dev.Goodbyes())

	// Idempotent
	assert.NoError(t, ch.Close())
	assert.False(t, ch.Goodbye(context.Background()))
	assert.Equal(t, 1, dev.Goodbyes())

	err := ch.Handshake(context.Background())
	assert.ErrorIs(t, err, smp.ErrClosed)
}

func TestChannel_GoodbyeWriteFailure(t *testing.T) {
	conn := &scriptedConn{writeErr: errors.New("unplugged")}
	ch := smp.NewChannel(conn)

	assert.False(t, ch.Goodbye(context.Background()))
	assert.Equal(t, smp.StateClosed, ch.State())
}

func TestChannel_RestartLoad(t *testing.T) {
	dev := smptest.NewDevice(session)
	ch := connect(t, dev)
	ctx := context.Background()

	first, _ := smp.NewTransfer(bytes.Repeat([]byte{1}, 90))
	require.NoError(t, ch.StartLoad(ctx, first))
	_, err := readAnswer(t, ch, smp.ActionStartLoad)
	require.NoError(t, err)
	st, err := ch.Load(ctx, first)
	require.NoError(t, err)
	require.Equal(t, smp.LocalOk, st)
	_, err = readAnswer(t, ch, smp.ActionLoading)
	require.NoError(t, err)

	second, _ := smp.NewTransfer([]byte("short"))
	require.NoError(t, ch.StartLoad(ctx, second))
	_, err = readAnswer(t, ch, smp.ActionStartLoad)
	require.NoError(t, err)
	st, err = ch.Load(ctx, second)
	require.NoError(t, err)
	require.Equal(t, smp.LocalOk, st)
	_, err = readAnswer(t, ch, smp.ActionLoading)
	require.NoError(t, err)

	st, _ = ch.Load(ctx, second)
	require.Equal(t, smp.LocalNothingToWrite, st)
	_, err = readAnswer(t, ch, smp.ActionLoading)
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), dev.Image())
}

func TestChannel_LoadUnannouncedTransfer(t *testing.T) {
	dev := smptest.NewDevice(session)
	ch := connect(t, dev)
	ctx := context.Background()

	announced, _ := smp.NewTransfer(bytes.Repeat([]byte{1}, 30))
	other, _ := smp.NewTransfer(bytes.Repeat([]byte{2}, 30))
	require.NoError(t, ch.StartLoad(ctx, announced))
	_, err := readAnswer(t, ch, smp.ActionStartLoad)
	require.NoError(t, err)
	requests := len(dev.Requests())

	_, err = ch.Load(ctx, other)
	assert.ErrorIs(t, err, smp.ErrInvalidState)
	assert.Len(t, dev.Requests(), requests, "nothing is sent for the wrong transfer")
	assert.Zero(t, other.Written())

	// A finished foreign transfer is refused too
	done, _ := smp.NewTransfer(nil)
	_, err = ch.Load(ctx, done)
	assert.ErrorIs(t, err, smp.ErrInvalidState)

	st, err := ch.Load(ctx, announced)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalOk, st)
}

// blockingConn has no deadline support. Reads block on a pipe until data is
// written to it.
type blockingConn struct {
	*io.PipeReader
	io.Writer
}

func TestChannel_BlockingReaderTimesOut(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ch := smp.NewChannel(blockingConn{pr, io.Discard}, smp.WithTimeout(100*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, ch.Handshake(ctx))

	start := time.Now()
	st, err := ch.HandshakeAnswer(ctx)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalTimeout, st)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, smp.StateHandshaking, ch.State())

	// An answer arriving after the timeout is kept for the retried read
	go func() { _, _ = pw.Write(smp.AppendHandshakeAnswer(nil, session)) }()
	st, err = ch.HandshakeAnswer(ctx)
	require.NoError(t, err)
	assert.Equal(t, smp.LocalOk, st)
	got, _ := ch.Session()
	assert.Equal(t, session, got)
}

func TestChannel_BlockingWriterTimesOut(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()
	ch := smp.NewChannel(blockingConn{&io.PipeReader{}, pw}, smp.WithTimeout(100*time.Millisecond))

	start := time.Now()
	err := ch.Handshake(context.Background())
	assert.Equal(t, smp.LocalTimeout, smp.LocalStatusOf(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, smp.StateUnconnected, ch.State())

	// The stalled preamble goes out before the next one
	sent := make(chan []byte, 1)
	go func() {
		buf, _ := io.ReadAll(io.LimitReader(pr, 2*smp.HandshakeSize))
		sent <- buf
	}()
	require.NoError(t, ch.Handshake(context.Background()))
	assert.Equal(t, append(smp.HandshakePreamble(), smp.HandshakePreamble()...), <-sent)
	assert.Equal(t, smp.StateHandshaking, ch.State())
}

func TestNewChannel_NilTransport(t *testing.T) {
	assert.Panics(t, func() { smp.NewChannel(nil) })
}
