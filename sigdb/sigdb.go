// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sigdb decodes CAN payloads into named signal values,
// following the message definitions of a DBC file.
package sigdb // import "github.com/go-lpc/cellbal/sigdb"

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/dbc"
)

const (
	// extended-frame flag of DBC message identifiers.
	extendedFlag = 1 << 31

	// classic CAN payloads are at most 8 bytes long.
	maxPayload = 8
)

var (
	ErrNoMessages     = errors.New("sigdb: no message definition")
	ErrUnknownMessage = errors.New("sigdb: unknown message")
	ErrShortPayload   = errors.New("sigdb: payload shorter than message")
	ErrPayloadTooLong = errors.New("sigdb: payload longer than 8 bytes")
)

// Field is a decoded signal.
type Field struct {
	Name  string
	Value Value
}

// Update is the set of signals decoded from a single CAN frame.
type Update []Field

// Schema holds the message definitions of a DBC file, indexed by CAN identifier.
type Schema struct {
	name string
	msgs map[uint32]*Message
}

// Message describes how to decode the payload of a CAN frame.
type Message struct {
	ID      uint32
	Name    string
	Size    int // expected payload length, in bytes
	Signals []Signal

	mux int // index of the multiplexer switch in Signals, or -1
}

// Signal describes a bit-field of a message payload.
type Signal struct {
	Name      string
	Start     uint8
	Size      uint8
	BigEndian bool
	Signed    bool
	Factor    float64
	Offset    float64
	Unit      string

	Multiplexed bool
	MuxValue    uint64 // multiplexer value selecting this signal

	Labels map[int64]string // value descriptions, keyed by raw value
}

// Open loads the DBC file fname.
func Open(fname string) (*Schema, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("sigdb: could not read DBC file: %w", err)
	}
	return Parse(fname, raw)
}

// Parse parses the DBC content data. name is only used for error messages.
func Parse(name string, data []byte) (*Schema, error) {
	p := dbc.NewParser(name, data)
	err := p.Parse()
	if err != nil {
		return nil, fmt.Errorf("sigdb: could not parse DBC %q: %w", name, err)
	}

	db := &Schema{
		name: name,
		msgs: make(map[uint32]*Message),
	}

	type key struct {
		msg uint32
		sig string
	}
	labels := make(map[key]map[int64]string)

	for _, def := range p.Defs() {
		switch def := def.(type) {
		case *dbc.MessageDef:
			msg := newMessage(def)
			db.msgs[msg.ID] = msg

		case *dbc.ValueDescriptionsDef:
			if def.SignalName == "" {
				continue
			}
			k := key{msg: canID(def.MessageID), sig: string(def.SignalName)}
			m := make(map[int64]string, len(def.ValueDescriptions))
			for _, vd := range def.ValueDescriptions {
				m[int64(vd.Value)] = vd.Description
			}
			labels[k] = m
		}
	}

	if len(db.msgs) == 0 {
		return nil, fmt.Errorf("sigdb: invalid DBC %q: %w", name, ErrNoMessages)
	}

	for id, msg := range db.msgs {
		for i := range msg.Signals {
			sig := &msg.Signals[i]
			sig.Labels = labels[key{msg: id, sig: sig.Name}]
		}
	}

	return db, nil
}

func canID(id dbc.MessageID) uint32 {
	return uint32(id) &^ extendedFlag
}

func newMessage(def *dbc.MessageDef) *Message {
	msg := &Message{
		ID:      canID(def.MessageID),
		Name:    string(def.Name),
		Size:    int(def.Size),
		Signals: make([]Signal, 0, len(def.Signals)),
		mux:     -1,
	}
	for _, sd := range def.Signals {
		if sd.IsMultiplexerSwitch {
			msg.mux = len(msg.Signals)
		}
		msg.Signals = append(msg.Signals, Signal{
			Name:        string(sd.Name),
			Start:       uint8(sd.StartBit),
			Size:        uint8(sd.Size),
			BigEndian:   sd.IsBigEndian,
			Signed:      sd.IsSigned,
			Factor:      sd.Factor,
			Offset:      sd.Offset,
			Unit:        sd.Unit,
			Multiplexed: sd.IsMultiplexed,
			MuxValue:    sd.MultiplexerSwitch,
		})
	}
	return msg
}

// Name returns the name of the DBC the schema was loaded from.
func (db *Schema) Name() string { return db.name }

// Len returns the number of messages defined in the schema.
func (db *Schema) Len() int { return len(db.msgs) }

// Message returns the definition of the message with the provided CAN identifier.
func (db *Schema) Message(id uint32) (*Message, bool) {
	msg, ok := db.msgs[id]
	return msg, ok
}

// Signals returns the sorted names of all the signals defined in the schema.
func (db *Schema) Signals() []string {
	var names []string
	for _, msg := range db.msgs {
		for _, sig := range msg.Signals {
			names = append(names, sig.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Decode decodes the payload of the CAN frame with identifier id.
// Decode only returns signals belonging to the message definition.
func (db *Schema) Decode(id uint32, payload []byte) (Update, error) {
	msg, ok := db.msgs[id]
	if !ok {
		return nil, fmt.Errorf("%w 0x%x", ErrUnknownMessage, id)
	}
	return msg.Decode(payload)
}

// Decode decodes payload according to the message definition.
// Either all the signals are decoded, or an error is returned.
func (msg *Message) Decode(payload []byte) (Update, error) {
	switch {
	case len(payload) > maxPayload:
		return nil, fmt.Errorf("%w (msg=%s, len=%d)", ErrPayloadTooLong, msg.Name, len(payload))
	case len(payload) < msg.Size:
		return nil, fmt.Errorf("%w (msg=%s, len=%d, want=%d)", ErrShortPayload, msg.Name, len(payload), msg.Size)
	}

	for i := range msg.Signals {
		sig := &msg.Signals[i]
		if sig.Size == 0 || sig.Size > 64 {
			return nil, fmt.Errorf("sigdb: invalid size for signal %s.%s (size=%d)", msg.Name, sig.Name, sig.Size)
		}
		if sig.lastByte() >= len(payload) {
			return nil, fmt.Errorf("%w (msg=%s, signal=%s, len=%d)", ErrShortPayload, msg.Name, sig.Name, len(payload))
		}
	}

	var data can.Data
	copy(data[:], payload)

	var (
		mux    uint64
		hasMux = msg.mux >= 0
	)
	if hasMux {
		mux = msg.Signals[msg.mux].unsigned(&data)
	}

	upd := make(Update, 0, len(msg.Signals))
	for i := range msg.Signals {
		sig := &msg.Signals[i]
		if sig.Multiplexed && (!hasMux || sig.MuxValue != mux) {
			continue
		}
		upd = append(upd, Field{Name: sig.Name, Value: sig.decode(&data)})
	}
	return upd, nil
}

func (sig *Signal) unsigned(data *can.Data) uint64 {
	if sig.BigEndian {
		return data.UnsignedBitsBigEndian(sig.Start, sig.Size)
	}
	return data.UnsignedBitsLittleEndian(sig.Start, sig.Size)
}

func (sig *Signal) signed(data *can.Data) int64 {
	if sig.BigEndian {
		return data.SignedBitsBigEndian(sig.Start, sig.Size)
	}
	return data.SignedBitsLittleEndian(sig.Start, sig.Size)
}

func (sig *Signal) decode(data *can.Data) Value {
	var (
		v   Value
		raw int64
	)
	switch {
	case sig.Signed:
		raw = sig.signed(data)
		v = Float(float64(raw)*sig.Factor + sig.Offset)
	default:
		u := sig.unsigned(data)
		raw = int64(u)
		switch {
		case sig.Factor == 1 && sig.Offset == 0:
			v = Uint(u)
		default:
			v = Float(float64(u)*sig.Factor + sig.Offset)
		}
	}

	if lbl, ok := sig.Labels[raw]; ok {
		v = v.WithLabel(lbl)
	}
	return v
}

// lastByte returns the index of the last payload byte covered by sig.
func (sig *Signal) lastByte() int {
	var (
		start = int(sig.Start)
		size  = int(sig.Size)
	)
	if !sig.BigEndian {
		return (start + size - 1) / 8
	}
	// big-endian signals start at their MSB and run towards
	// the least significant bits of the following bytes.
	first := start%8 + 1
	if size <= first {
		return start / 8
	}
	return start/8 + (size-first+7)/8
}
