// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/smpctl/pkg/smp"
)

// Reply texts
const (
	replyLedOK         = "Led operation succeeded"
	replyLoaded        = "Loaded"
	replyBooted        = "Booted!"
	replyNoSuchCommand = "No such command"
	replyNoSuchLedOp   = "No such led operation"
	replyLedRange      = "Led number must be <= 0xF"
)

// defaultBootWait is how long a silent device is given to prove it rebooted
const defaultBootWait = time.Second

// ProgressFunc is called after each acknowledged load chunk
type ProgressFunc func(written, total uint32)

// Reply is the outcome of one text command
type Reply struct {
	Text string
	OK   bool
	Done bool  // the session has ended
	Err  error // transport failure that ended the session
}

// Processor runs text commands against one channel. It is the channel's only
// owner; concurrent callers are serialised.
type Processor struct {
	mu       sync.Mutex
	ch       *smp.Channel
	log      *slog.Logger
	progress ProgressFunc
	bootWait time.Duration
	answer   []byte
}

// NewProcessor creates a processor driving ch
func NewProcessor(ch *smp.Channel, log *slog.Logger) *Processor {
	return &Processor{
		ch:       ch,
		log:      log,
		bootWait: defaultBootWait,
		answer:   make([]byte, smp.AnswerSize),
	}
}

// SetProgress installs a callback for load progress
func (p *Processor) SetProgress(fn ProgressFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = fn
}

// Channel returns the driven channel
func (p *Processor) Channel() *smp.Channel {
	return p.ch
}

// Process runs one command line and returns the reply text and whether the
// session ended
func (p *Processor) Process(ctx context.Context, line string) (string, bool) {
	r := p.Execute(ctx, line)
	return r.Text, r.Done
}

// Execute runs one command line
func (p *Processor) Execute(ctx context.Context, line string) Reply {
	p.mu.Lock()
	defer p.mu.Unlock()

	line = strings.TrimSpace(line)
	name, args, _ := strings.Cut(line, " ")
	p.log.Debug("command", "name", name, "args", args)

	switch name {
	case "", "stop":
		p.closeLocked()
		return Reply{OK: true, Done: true}
	case "start":
		return p.start(ctx)
	case "LED":
		return p.led(ctx, args)
	case "load":
		return p.load(ctx, strings.TrimSpace(args))
	case "boot":
		return p.boot(ctx)
	default:
		return Reply{Text: replyNoSuchCommand}
	}
}

// Close ends the session with a goodbye
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Processor) closeLocked() error {
	return p.ch.Close()
}

func (p *Processor) start(ctx context.Context) Reply {
	if err := p.ch.Handshake(ctx); err != nil {
		return p.failure("start", err)
	}
	st, err := p.ch.HandshakeAnswer(ctx)
	if err != nil {
		return p.failure("start", err)
	}
	if st != smp.LocalOk {
		return Reply{Text: st.String()}
	}
	return Reply{Text: "Values: " + p.ch.Values(), OK: true}
}

// parseLedCommand parses "<index|all> <on|off|toggle>"
func parseLedCommand(args string) (smp.LedMessage, error) {
	target, opName, _ := strings.Cut(args, " ")

	device := smp.LEDAll
	if target != "all" {
		v, err := strconv.ParseUint(target, 10, 8)
		if err != nil {
			return smp.LedMessage{}, fmt.Errorf("Can't convert to number: %s", target)
		}
		if v > uint64(smp.LEDAll) {
			return smp.LedMessage{}, errors.New(replyLedRange)
		}
		device = uint8(v)
	}

	var op smp.LEDOp
	switch opName {
	case "on":
		op = smp.LEDOn
	case "off":
		op = smp.LEDOff
	case "toggle":
		op = smp.LEDToggle
	default:
		return smp.LedMessage{}, errors.New(replyNoSuchLedOp)
	}

	return smp.NewLedMessage(device, op)
}

func (p *Processor) led(ctx context.Context, args string) Reply {
	msg, err := parseLedCommand(args)
	if err != nil {
		return Reply{Text: err.Error()}
	}
	if err := p.ch.Peripheral(ctx, msg); err != nil {
		return p.failure("led", err)
	}
	if r, ok := p.checkAnswer(ctx, "led", smp.ActionPeripheral); !ok {
		return r
	}
	return Reply{Text: replyLedOK, OK: true}
}

// load uploads a file: start load and its acknowledgement, then one
// acknowledgement per chunk, then the completion acknowledgement. The first
// failure abandons the sequence.
func (p *Processor) load(ctx context.Context, path string) Reply {
	tr, err := smp.LoadTransferFile(path)
	if err != nil {
		return Reply{Text: err.Error()}
	}

	if err := p.ch.StartLoad(ctx, tr); err != nil {
		return p.failure("load", err)
	}
	if r, ok := p.checkAnswer(ctx, "start load", smp.ActionStartLoad); !ok {
		return r
	}

	for {
		st, err := p.ch.Load(ctx, tr)
		if err != nil {
			return p.failure("load", err)
		}
		if st == smp.LocalNothingToWrite {
			break
		}
		if st != smp.LocalOk {
			return Reply{Text: st.String()}
		}
		if r, ok := p.checkAnswer(ctx, "load", smp.ActionLoading); !ok {
			p.log.Info("load abandoned", "written", tr.Written(), "size", tr.Size(), "reason", r.Text)
			return r
		}
		if p.progress != nil {
			p.progress(tr.Written(), tr.Size())
		}
	}

	if r, ok := p.checkAnswer(ctx, "load complete", smp.ActionLoading); !ok {
		return r
	}
	p.log.Info("load complete", "size", tr.Size(), "hash", fmt.Sprintf("0x%08X", tr.Hash()))
	return Reply{Text: replyLoaded, OK: true}
}

// boot succeeds when the device goes quiet: a timeout with nothing read
func (p *Processor) boot(ctx context.Context) Reply {
	if err := p.ch.Boot(ctx); err != nil {
		return p.failure("boot", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.bootWait)
	defer cancel()
	res, err := p.ch.ReadFrame(waitCtx, p.answer, smp.ActionBoot)
	if err != nil {
		return p.failure("boot", err)
	}
	if res.Local == smp.LocalTimeout && res.AnswerSize == 0 {
		return Reply{Text: replyBooted, OK: true}
	}
	text, ok := p.interpret("boot", res)
	if ok {
		text = "Device answered boot request"
	}
	return Reply{Text: text}
}

// checkAnswer reads one answer and reports whether it was a success
func (p *Processor) checkAnswer(ctx context.Context, op string, action smp.Action) (Reply, bool) {
	res, err := p.ch.ReadFrame(ctx, p.answer, action)
	if err != nil {
		return p.failure(op, err), false
	}
	text, ok := p.interpret(op, res)
	return Reply{Text: text, OK: ok}, ok
}

func (p *Processor) interpret(op string, res smp.ReadResult) (string, bool) {
	code, err := smp.ParseAnswer(op, p.answer, res)
	if err == nil {
		return code.String(), true
	}
	if st := smp.LocalStatusOf(err); st != smp.LocalOk {
		p.log.Debug("answer rejected", "op", op, "status", smp.FormatStatus(st, code))
		return st.String(), false
	}
	p.log.Debug("device refused", "op", op, "status", smp.FormatStatus(smp.LocalOk, code))
	return code.String(), false
}

// failure turns a channel error into a reply. A transport failure ends the
// session.
func (p *Processor) failure(op string, err error) Reply {
	if smp.IsTransportError(err) {
		p.log.Error("transport failure", "op", op, "error", err)
		p.closeLocked()
		return Reply{Text: err.Error(), Done: true, Err: err}
	}
	p.log.Debug("command failed", "op", op, "error", err)
	if st := smp.LocalStatusOf(err); st != smp.LocalOk {
		return Reply{Text: st.String()}
	}
	return Reply{Text: err.Error()}
}
