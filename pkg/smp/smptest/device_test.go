// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smptest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/smpctl/pkg/smp"
)

var testSession = smp.Session{StartWord: 0xA5A5A5A5, MaxPacketSize: 48, ConnectionID: 3}

func handshake(t *testing.T, d *Device) {
	t.Helper()
	n, err := d.Write(smp.HandshakePreamble())
	require.NoError(t, err)
	require.Equal(t, smp.HandshakeSize, n)

	buf := make([]byte, smp.HandshakeAnswerSize)
	n, err = d.Read(buf)
	require.NoError(t, err)
	require.Equal(t, smp.HandshakeAnswerSize, n)

	s, st := smp.ParseHandshakeAnswer(buf)
	require.Equal(t, smp.LocalOk, st)
	require.Equal(t, testSession, s)
}

func nextAnswer(t *testing.T, d *Device) smp.Frame {
	t.Helper()
	buf := make([]byte, smp.AnswerSize)
	n, err := d.Read(buf)
	require.NoError(t, err)
	require.Equal(t, smp.AnswerSize, n)
	f, err := smp.DecodeFrame(buf)
	require.NoError(t, err)
	require.True(t, f.Valid())
	return f
}

func TestDevice_EmptyRead(t *testing.T) {
	d := NewDevice(testSession)
	n, err := d.Read(make([]byte, 4))
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestDevice_IgnoresNoiseBeforePreamble(t *testing.T) {
	d := NewDevice(testSession)
	_, err := d.Write([]byte{0x00, 0x01})
	require.NoError(t, err)
	handshake(t, d)
}

func TestDevice_Answers(t *testing.T) {
	tests := []struct {
		name    string
		request []byte
		want    smp.StatusCode
	}{
		{"led ok", smp.MustEncodeFrame(&testSession, smp.ActionPeripheral, []byte{0x01}), smp.StatusOk},
		{"led missing", smp.MustEncodeFrame(&testSession, smp.ActionPeripheral, []byte{0x07}), smp.StatusNoSuchDevice},
		{"led bad size", smp.MustEncodeFrame(&testSession, smp.ActionPeripheral, []byte{0x01, 0x02}), smp.StatusWrongMsgSize},
		{"led bad op", smp.MustEncodeFrame(&testSession, smp.ActionPeripheral, []byte{0x31}), smp.StatusNoSuchCommand},
		{"chunk before start", smp.MustEncodeFrame(&testSession, smp.ActionLoading, make([]byte, 12)), smp.StatusWaitStartLoad},
		{"unknown action", smp.MustEncodeFrame(&testSession, smp.Action(0x21), nil), smp.StatusNoSuchCommand},
		{"wrong id", smp.MustEncodeFrame(&smp.Session{StartWord: testSession.StartWord, ConnectionID: 9}, smp.ActionPeripheral, []byte{0x01}), smp.StatusInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDevice(testSession)
			handshake(t, d)
			_, err := d.Write(tt.request)
			require.NoError(t, err)

			f := nextAnswer(t, d)
			assert.Equal(t, []byte{byte(tt.want)}, f.Payload)
		})
	}
}

func TestDevice_BrokenRequestHash(t *testing.T) {
	d := NewDevice(testSession)
	handshake(t, d)

	req := smp.MustEncodeFrame(&testSession, smp.ActionPeripheral, []byte{0x01})
	req[len(req)-1] ^= 0x04
	_, err := d.Write(req)
	require.NoError(t, err)

	f := nextAnswer(t, d)
	assert.Equal(t, []byte{byte(smp.StatusHashBroken)}, f.Payload)
}

func TestDevice_LoadChecks(t *testing.T) {
	d := NewDevice(testSession)
	handshake(t, d)

	payload := []byte("0123456789")
	hash := smp.HashPayload(payload)
	start := smp.StartLoadBody{WholeMsgSize: uint32(len(payload)), WholeMsgHash: hash}.AppendTo(nil)
	_, _ = d.Write(smp.MustEncodeFrame(&testSession, smp.ActionStartLoad, start))
	assert.Equal(t, []byte{0}, nextAnswer(t, d).Payload)

	chunk := func(id, msgHash uint32, data []byte) []byte {
		body := append(smp.LoadChunkHeader{PacketID: id, MsgHash: msgHash}.AppendTo(nil), data...)
		return smp.MustEncodeFrame(&testSession, smp.ActionLoading, body)
	}

	_, _ = d.Write(chunk(1, hash, payload[:4]))
	assert.Equal(t, []byte{byte(smp.StatusLoadWrongPacket)}, nextAnswer(t, d).Payload)

	_, _ = d.Write(chunk(0, hash+1, payload[:4]))
	assert.Equal(t, []byte{byte(smp.StatusHashBroken)}, nextAnswer(t, d).Payload)

	_, _ = d.Write(chunk(0, hash, append(payload, 'x')))
	assert.Equal(t, []byte{byte(smp.StatusLoadExtraSize)}, nextAnswer(t, d).Payload)

	_, _ = d.Write(chunk(0, hash, payload))
	assert.Equal(t, []byte{0}, nextAnswer(t, d).Payload, "chunk ack")
	assert.Equal(t, []byte{0}, nextAnswer(t, d).Payload, "completion ack")
	assert.Equal(t, payload, d.Image())
}

func TestDevice_WriteLimit(t *testing.T) {
	d := NewDevice(testSession)
	d.WriteLimit = 4

	n, err := d.Write(smp.HandshakePreamble())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Zero(t, d.Pending())
}

func TestDevice_SilentAndBoot(t *testing.T) {
	d := NewDevice(testSession)
	handshake(t, d)
	d.Silent = true

	_, err := d.Write(smp.MustEncodeFrame(&testSession, smp.ActionBoot, nil))
	require.NoError(t, err)
	assert.True(t, d.Booted())
	assert.Zero(t, d.Pending())
}
