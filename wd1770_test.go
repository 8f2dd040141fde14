package main

import (
	"testing"

	"github.com/matryer/is"
)

// testMachine builds a machine with a single-density 40 track DFS
// image in drive 0 and the control latch set for drive 0, side 0.
func testMachine(t *testing.T, b board, dens bool) *machine {
	t.Helper()
	m := newMachine(b)
	path := makeDFS(t, findGeometry(dfsFormats, sidesSingle, 400))
	if err := m.disc.load(0, path); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.disc.close(0) })
	m.fdc.write8(b.ctrlAddr(), b.ctrlBits(0, 0, dens))
	return m
}

// runCommand ticks until the busy bit clears, optionally feeding fill
// bytes on DRQ. Returns the tick count, or -1 if it never finished.
func runCommand(m *machine, feed bool, fill uint8) int {
	w := &m.fdc
	base := w.board.regBase()
	for i := 0; i < 1000000; i++ {
		if feed && w.status&statusDRQ != 0 {
			w.write8(base|3, fill)
		}
		if w.status&statusBusy == 0 {
			return i
		}
		m.tick()
	}
	return -1
}

func TestCommandStatusTable(t *testing.T) {
	expect := func(got, want interface{}) {
		if got != want {
			t.Helper()
			t.Fatal("got:", got, "want:", want)
		}
	}

	tests := []struct {
		cmd    uint8
		status uint8
		nmi    bool
	}{
		{0x00, 0x84, true}, // restore
		{0x10, 0x84, true}, // seek (data register 0)
		{0x20, 0x84, true}, // step, no direction yet
		{0x30, 0x84, true},
		{0x40, 0x80, true}, // step in, head off track 0
		{0x50, 0x80, true},
		{0x60, 0x84, true}, // step out, clamped at track 0
		{0x70, 0x84, true},
		{0x80, 0x80, true}, // read sector
		{0x90, 0x90, true}, // not a 1770 command
		{0xA0, 0x80, true}, // write sector
		{0xB0, 0x90, true},
		{0xC0, 0x80, true}, // read address
		{0xD0, 0x84, false}, // force interrupt, no NMI bit
		{0xE0, 0x90, true},
		{0xF0, 0x80, true}, // write track
	}
	for _, tc := range tests {
		m := testMachine(t, boardAcorn1770, false)
		w := &m.fdc
		w.write8(w.board.regBase(), tc.cmd)
		ticks := runCommand(m, tc.cmd>>4 == 0xA, 0x42)
		t.Logf("cmd %02X: status %02X nmi %v after %d ticks", tc.cmd, w.status, w.NMI(), ticks)
		expect(ticks >= 0, true)
		expect(w.status, tc.status)
		expect(w.NMI(), tc.nmi)
	}
}

func TestNMINotWiredOnSolidisk(t *testing.T) {
	is := is.New(t)
	m := testMachine(t, boardSolidisk, false)
	w := &m.fdc
	w.write8(w.board.regBase(), 0x00) // restore
	is.True(runCommand(m, false, 0) >= 0)
	is.Equal(w.status, uint8(0x84))
	is.Equal(w.NMI(), false)
}

func TestForceInterrupt(t *testing.T) {
	is := is.New(t)

	// While busy: clears the busy bit immediately, no delay.
	m := testMachine(t, boardAcorn1770, false)
	w := &m.fdc
	base := w.board.regBase()
	w.write8(base, 0x80)
	is.Equal(w.status&statusBusy, uint8(statusBusy))
	w.write8(base, 0xD0)
	is.Equal(w.status&statusBusy, uint8(0))
	is.Equal(w.NMI(), false)

	// While idle: motor-on plus the track 0 flag, nothing else.
	w.write8(base, 0xD0)
	is.Equal(w.status, uint8(0x84))

	// Bit 3 requests an interrupt, if the board wires one.
	w.write8(base, 0xD8)
	is.Equal(w.NMI(), true)
}

func TestBusyRejectsCommands(t *testing.T) {
	is := is.New(t)
	m := testMachine(t, boardAcorn1770, false)
	w := &m.fdc
	base := w.board.regBase()

	w.write8(base, 0x80)
	is.Equal(w.command, uint8(0x80))
	w.write8(base, 0x00) // restore must be ignored while busy
	is.Equal(w.command, uint8(0x80))
	is.True(runCommand(m, false, 0) >= 0)
}

func TestStepping(t *testing.T) {
	is := is.New(t)
	m := testMachine(t, boardAcorn1770, false)
	w := &m.fdc
	base := w.board.regBase()

	// Step out from track 0 never goes negative.
	for i := 0; i < 3; i++ {
		w.write8(base, 0x70)
		is.True(runCommand(m, false, 0) >= 0)
		is.Equal(w.curTrack, 0)
		is.Equal(w.status, uint8(0x84))
	}

	// Three steps in, then a plain step repeats the direction.
	for i := 0; i < 3; i++ {
		w.write8(base, 0x50)
		is.True(runCommand(m, false, 0) >= 0)
	}
	is.Equal(w.curTrack, 3)
	is.Equal(w.track, uint8(3))
	w.write8(base, 0x30)
	is.True(runCommand(m, false, 0) >= 0)
	is.Equal(w.curTrack, 4)

	// Restore puts both the head and the track register back to 0.
	w.write8(base, 0x00)
	is.True(runCommand(m, false, 0) >= 0)
	is.Equal(w.curTrack, 0)
	is.Equal(w.track, uint8(0))
	is.Equal(w.status, uint8(0x84))
}

// fakeDrive records the registry calls made against its slot.
type fakeDrive struct {
	seeks   []int
	reads   int
	writes  int
	addrs   int
	formats int
	aborts  int
	closes  int
	polls   int
}

func (f *fakeDrive) close()                                                 { f.closes++ }
func (f *fakeDrive) seek(track int)                                         { f.seeks = append(f.seeks, track) }
func (f *fakeDrive) readSector(sector, track uint8, side int, density bool) { f.reads++ }
func (f *fakeDrive) writeSector(sector, track uint8, side int, density bool) {
	f.writes++
}
func (f *fakeDrive) readAddress(track uint8, side int, density bool) { f.addrs++ }
func (f *fakeDrive) format(track uint8, side int, density bool)      { f.formats++ }
func (f *fakeDrive) poll()                                           { f.polls++ }
func (f *fakeDrive) abort()                                          { f.aborts++ }

func TestRestoreFromTrack5(t *testing.T) {
	is := is.New(t)
	m := newMachine(boardAcorn1770)
	fd := &fakeDrive{}
	m.disc.drives[0] = fd
	w := &m.fdc
	w.curTrack = 5

	// High nibble 0 makes 0x08 a restore.
	w.write8(w.board.regBase(), 0x08)
	is.Equal(w.status, uint8(0xA1)) // motor|spin-up|busy, head not yet home
	is.Equal(fd.seeks, []int{0})

	is.True(runCommand(m, false, 0) >= 0)
	is.Equal(w.read8(w.board.regBase()|1), uint8(0)) // track register synced
	is.Equal(w.status, uint8(0x84))
	is.Equal(w.NMI(), true)
}

func TestReadAddressLeavesTrackInSector(t *testing.T) {
	is := is.New(t)
	m := testMachine(t, boardAcorn1770, false)
	w := &m.fdc
	base := w.board.regBase()

	w.write8(base|2, 7) // stale sector register
	w.write8(base, 0xC0)
	is.True(runCommand(m, false, 0) >= 0)
	is.Equal(w.read8(base|2), w.read8(base|1))
}

func TestWriteProtectStatus(t *testing.T) {
	is := is.New(t)
	m := testMachine(t, boardAcorn1770, false)
	m.disc.drives[0].(*sdf).writeProt = true
	w := &m.fdc

	w.write8(w.board.regBase(), 0xA0)
	is.True(runCommand(m, true, 0xFF) >= 0)
	is.Equal(w.status, uint8(0xC0))
	is.Equal(w.NMI(), true)
}

func TestErrorCallbackStatus(t *testing.T) {
	expect := func(got, want interface{}) {
		if got != want {
			t.Helper()
			t.Fatal("got:", got, "want:", want)
		}
	}

	m := testMachine(t, boardAcorn1770, false)
	w := &m.fdc

	w.dataCRCError()
	expect(w.status, uint8(0x88))
	expect(w.NMI(), true)

	w.headerCRCError()
	expect(w.status, uint8(0x98))

	w.notFound()
	expect(w.status, uint8(0x90))

	w.writeProtect()
	expect(w.status, uint8(0xC0))
}

func TestDataRegisterHandshake(t *testing.T) {
	is := is.New(t)
	m := testMachine(t, boardAcorn1770, false)
	w := &m.fdc
	base := w.board.regBase()

	w.deliverByte(0x5A)
	is.Equal(w.status&statusDRQ, uint8(statusDRQ))
	is.Equal(w.NMI(), true)

	// Reading the data register clears DRQ and the data NMI bit.
	is.Equal(w.read8(base|3), uint8(0x5A))
	is.Equal(w.status&statusDRQ, uint8(0))
	is.Equal(w.NMI(), false)

	// A write marks data pending; the drive consumes it once.
	w.write8(base|3, 0x42)
	is.Equal(w.getData(false), 0x42)
	is.Equal(w.status&statusDRQ, uint8(statusDRQ)) // more bytes wanted
	is.Equal(w.getData(true), -1)                  // underrun, nothing pending
}

func TestBoardCtrlMapping(t *testing.T) {
	tests := []struct {
		name  string
		board board
		ctrl  uint8
		drive int
		side  int
		dens  bool
	}{
		{"acorn drive 1", boardAcorn1770, 0x02, 1, 0, true},
		{"acorn side 1 single dens", boardAcorn1770, 0x0C, 0, 1, false},
		{"master drive 1 side 1", boardMaster128, 0x12, 1, 1, true},
		{"master single dens", boardMaster128, 0x20, 0, 0, false},
		{"solidisk drive 1 side 1", boardSolidisk, 0x03, 1, 1, true},
		{"solidisk single dens", boardSolidisk, 0x04, 0, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)
			m := newMachine(tc.board)
			m.fdc.write8(tc.board.ctrlAddr(), tc.ctrl)
			is.Equal(m.disc.curDrive, tc.drive)
			is.Equal(m.fdc.curSide, tc.side)
			is.Equal(m.fdc.density, tc.dens)
		})
	}
}

func TestCtrlResetBit(t *testing.T) {
	is := is.New(t)
	m := newMachine(boardAcorn1770)
	w := &m.fdc
	w.status = 0x99
	w.nmi = nmiIntrq
	w.write8(w.board.ctrlAddr(), 0x20)
	is.Equal(w.status, uint8(0))
	is.Equal(w.NMI(), false)
	is.Equal(w.motorSpin, motorSpinTime)

	m2 := newMachine(boardMaster128)
	m2.fdc.status = 0x99
	m2.fdc.write8(m2.fdc.board.ctrlAddr(), 0x04)
	is.Equal(m2.fdc.status, uint8(0))
}

func TestUnfittedBoardFloatsHigh(t *testing.T) {
	is := is.New(t)
	m := newMachine(boardBare)
	is.Equal(m.fdc.read8(4), uint8(0xFE))
	is.Equal(m.fdc.read8(0), uint8(0xFE))

	// Acorn and Master boards don't decode reads of the latch side.
	ma := newMachine(boardAcorn1770)
	is.Equal(ma.fdc.read8(0), uint8(0xFE))
	mm := newMachine(boardMaster128)
	is.Equal(mm.fdc.read8(0), uint8(0xFE))
}

func TestMotorSpinDown(t *testing.T) {
	is := is.New(t)
	m := testMachine(t, boardAcorn1770, false)
	w := &m.fdc

	w.write8(w.board.regBase(), 0x00)
	is.True(runCommand(m, false, 0) >= 0)
	is.Equal(w.motorOn, true)
	is.True(w.motorSpin > 0)

	m.run(motorSpinTime)
	is.Equal(w.motorOn, false)
	is.Equal(w.status, uint8(0x04)) // only the track 0 flag survives
}
