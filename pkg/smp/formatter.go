// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"fmt"
	"strings"
)

// maxDumpBytes limits how much of a payload is hex dumped
const maxDumpBytes = 32

// FormatActionType returns the human-readable name for an action
func FormatActionType(a Action) string {
	switch a {
	case ActionHandshake:
		return "HANDSHAKE"
	case ActionPeripheral:
		return "PERIPHERAL"
	case ActionStartLoad:
		return "START_LOAD"
	case ActionGoodbye:
		return "GOODBYE"
	case ActionLoading:
		return "LOADING"
	case ActionBoot:
		return "BOOT"
	default:
		return "UNKNOWN"
	}
}

// FormatHeader formats header fields on one line
func FormatHeader(h Header) string {
	kind := "request"
	if h.Success() {
		kind = "answer"
	}
	return fmt.Sprintf("start=0x%08X len=%d id=%d flags=0x%04X (%s %s) hash=0x%08X",
		h.StartWord, h.PacketLength, h.ConnectionID, h.Flags, FormatActionType(h.Action()), kind, h.Hash)
}

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f Frame) string {
	h := f.Header
	valid := "ok"
	if !f.Valid() {
		valid = "BAD HASH"
	}

	result := fmt.Sprintf("%s (0x%04X) id=%d len=%d hash=0x%08X [%s]\n",
		FormatActionType(h.Action()), h.Flags, h.ConnectionID, h.PacketLength, h.Hash, valid)
	result += formatPayload(h, f.Payload)
	return result
}

func formatPayload(h Header, p []byte) string {
	if len(p) == 0 {
		return "  (no payload)\n"
	}

	// Answers carry a single status byte regardless of action
	if h.Success() {
		if len(p) == 1 {
			code := ParseStatusCode(p[0])
			return fmt.Sprintf("  Status: %s (0x%02X)\n", code, p[0])
		}
		return "  Answer:\n" + hexDump(p)
	}

	switch h.Action() {
	case ActionPeripheral:
		if len(p) == 1 {
			m := ParseLedMessage(p[0])
			return fmt.Sprintf("  LED: %s, Op: %s\n", formatLED(m.Device), formatLEDOp(m.Op))
		}

	case ActionStartLoad:
		if body, err := ParseStartLoadBody(p); err == nil {
			return fmt.Sprintf("  Size: %d bytes, Hash: 0x%08X\n", body.WholeMsgSize, body.WholeMsgHash)
		}

	case ActionLoading:
		if hdr, data, err := ParseLoadChunk(p); err == nil {
			return fmt.Sprintf("  Packet: %d, Msg Hash: 0x%08X, Data: %d bytes\n", hdr.PacketID, hdr.MsgHash, len(data)) +
				hexDump(data)
		}
	}

	return hexDump(p)
}

// FormatItem formats a reassembled capture item
func FormatItem(it StreamItem) string {
	prefix := fmt.Sprintf("%s @%-6d ", it.Direction, it.Offset)
	switch it.Kind {
	case ItemPreamble:
		return prefix + "HANDSHAKE preamble\n"
	case ItemHandshakeAnswer:
		return prefix + fmt.Sprintf("HANDSHAKE answer start=0x%08X max=%d id=%d\n",
			it.Session.StartWord, it.Session.MaxPacketSize, it.Session.ConnectionID)
	case ItemFrame:
		return prefix + FormatFrame(it.Frame)
	default:
		return prefix + fmt.Sprintf("%d trailing bytes\n", len(it.Raw)) + hexDump(it.Raw)
	}
}

func formatLED(device uint8) string {
	if device == LEDAll {
		return "ALL"
	}
	return fmt.Sprintf("%d", device)
}

func formatLEDOp(op LEDOp) string {
	switch op {
	case LEDOn:
		return "ON"
	case LEDOff:
		return "OFF"
	case LEDToggle:
		return "TOGGLE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(op))
	}
}

func hexDump(b []byte) string {
	shown := b
	if len(shown) > maxDumpBytes {
		shown = shown[:maxDumpBytes]
	}

	var sb strings.Builder
	for i := 0; i < len(shown); i += 16 {
		end := i + 16
		if end > len(shown) {
			end = len(shown)
		}
		fmt.Fprintf(&sb, "  %04X  % X\n", i, shown[i:end])
	}
	if len(b) > maxDumpBytes {
		fmt.Fprintf(&sb, "  ... %d more bytes\n", len(b)-maxDumpBytes)
	}
	return sb.String()
}
