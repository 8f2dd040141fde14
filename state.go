package main

// Save-state surface. The controller and registry state is flattened
// to a byte stream in field declaration order; the framing around it
// belongs to the host save-state machinery. Drive backends are not
// part of the stream: images are reopened by the host on restore.

import (
	"encoding/binary"
	"fmt"
)

// stateLen is the exact size of the stream produced by SaveState.
const stateLen = 34 + 16

// stateBuf is a cursor over the save-state byte stream.
type stateBuf struct {
	buf []byte
	pos int
}

func (s *stateBuf) w8(v uint8) {
	s.buf = append(s.buf, v)
}

func (s *stateBuf) wbool(v bool) {
	if v {
		s.w8(1)
	} else {
		s.w8(0)
	}
}

func (s *stateBuf) w32(v int32) {
	s.buf = binary.LittleEndian.AppendUint32(s.buf, uint32(v))
}

func (s *stateBuf) r8() uint8 {
	v := s.buf[s.pos]
	s.pos++
	return v
}

func (s *stateBuf) rbool() bool {
	return s.r8() != 0
}

func (s *stateBuf) r32() int32 {
	v := binary.LittleEndian.Uint32(s.buf[s.pos:])
	s.pos += 4
	return int32(v)
}

func (w *WD1770) saveState(s *stateBuf) {
	s.w8(w.command)
	s.w8(w.sector)
	s.w8(w.track)
	s.w8(w.status)
	s.w8(w.data)
	s.w8(w.ctrl)
	s.w32(int32(w.curSide))
	s.w32(int32(w.curTrack))
	s.wbool(w.density)
	s.wbool(w.written)
	s.w32(int32(w.stepDir))
	s.w8(w.nmi)
	s.w32(int32(w.fdcTime))
	s.wbool(w.motorOn)
	s.w32(int32(w.motorSpin))
	s.w32(int32(w.board))
}

func (w *WD1770) loadState(s *stateBuf) {
	w.command = s.r8()
	w.sector = s.r8()
	w.track = s.r8()
	w.status = s.r8()
	w.data = s.r8()
	w.ctrl = s.r8()
	w.curSide = int(s.r32())
	w.curTrack = int(s.r32())
	w.density = s.rbool()
	w.written = s.rbool()
	w.stepDir = int(s.r32())
	w.nmi = s.r8()
	w.fdcTime = int(s.r32())
	w.motorOn = s.rbool()
	w.motorSpin = int(s.r32())
	w.board = board(s.r32())
}

func (d *Disc) saveState(s *stateBuf) {
	s.w32(int32(d.curDrive))
	s.w32(int32(d.notFound))
	for i := range d.oldTrack {
		s.w32(int32(d.oldTrack[i]))
	}
}

func (d *Disc) loadState(s *stateBuf) {
	d.curDrive = int(s.r32())
	d.notFound = int(s.r32())
	for i := range d.oldTrack {
		d.oldTrack[i] = int(s.r32())
	}
}

// SaveState flattens the controller and registry state.
func (m *machine) SaveState() []byte {
	s := stateBuf{buf: make([]byte, 0, stateLen)}
	m.fdc.saveState(&s)
	m.disc.saveState(&s)
	return s.buf
}

// LoadState restores state captured by SaveState.
func (m *machine) LoadState(data []byte) error {
	if len(data) != stateLen {
		return fmt.Errorf("bad save state length %d, want %d", len(data), stateLen)
	}
	s := stateBuf{buf: data}
	m.fdc.loadState(&s)
	m.disc.loadState(&s)
	return nil
}
