package main

import (
	"fmt"

	"github.com/SMerrony/dgemug/logging"
)

// Controller status bits. The exact meaning of bits 1-6 depends on
// which command is in flight; these are the ones shared by all of them.
const (
	statusBusy    = 0x01
	statusDRQ     = 0x02
	statusTrack0  = 0x04
	statusMotorOn = 0x80
)

// NMI line bits. The BBC wires both INTRQ and DRQ to the 6502's NMI
// input, so either bit asserts the line.
const (
	nmiIntrq = 1 << 0
	nmiDrq   = 1 << 1
)

// Error status bytes delivered by the drive callbacks.
const (
	statusNotFound     = statusMotorOn | 0x10
	statusDataCRC      = statusMotorOn | 0x08
	statusHeaderCRC    = statusMotorOn | 0x18
	statusWriteProtect = statusMotorOn | 0x40
)

// Motor spin-down delay after the last command completes, in ticks.
const motorSpinTime = 45000

// Delay between a drive finishing a transfer and the controller
// reporting command completion, in ticks.
const finishTime = 200

// board selects how the WD1770 is wired into the host machine: which
// address bit splits the chip's registers from the board's control
// latch, how the latch bits map to drive/side/density, and whether the
// chip's interrupt outputs reach the NMI line.
type board int

const (
	boardBare board = iota // no controller fitted
	boardAcorn1770
	boardMaster128
	boardSolidisk
)

func (b board) String() string {
	switch b {
	case boardAcorn1770:
		return "acorn"
	case boardMaster128:
		return "master"
	case boardSolidisk:
		return "solidisk"
	}
	return "none"
}

// wiredNMI reports whether the board connects INTRQ to the CPU.
func (b board) wiredNMI() bool {
	return b == boardAcorn1770 || b == boardMaster128
}

// regBase is the bus address bit that selects the 1770's own register
// file rather than the control latch.
func (b board) regBase() uint16 {
	switch b {
	case boardMaster128:
		return 0x0008
	case boardSolidisk:
		return 0x0000
	default:
		return 0x0004
	}
}

// ctrlAddr is a bus address that selects the control latch.
func (b board) ctrlAddr() uint16 {
	if b == boardSolidisk {
		return 0x0004
	}
	return 0x0000
}

// ctrlBits builds a control latch value selecting the given drive,
// side and density, without touching the board's reset bit.
func (b board) ctrlBits(drive, side int, doubleDens bool) uint8 {
	var v uint8
	switch b {
	case boardMaster128:
		v = uint8(drive<<1 | side<<4)
		if !doubleDens {
			v |= 0x20
		}
	case boardSolidisk:
		v = uint8(drive | side<<1)
		if !doubleDens {
			v |= 0x04
		}
	default:
		v = uint8(drive<<1 | side<<2)
		if !doubleDens {
			v |= 0x08
		}
	}
	return v
}

// WD1770 emulates the Western Digital 1770/1772 floppy disc
// controller together with the board-specific control latch that
// selects drive, side and density.
type WD1770 struct {
	command uint8
	sector  uint8
	track   uint8
	status  uint8
	data    uint8
	ctrl    uint8

	curSide  int
	curTrack int
	density  bool // false = FM (single), true = MFM (double)
	written  bool // data register holds a byte not yet taken by the drive
	stepDir  int

	nmi       uint8
	fdcTime   int // delay until command completion callback
	motorOn   bool
	motorSpin int // delay until motor spin-down, 0 = disarmed

	board board
	disc  *Disc
}

// NMI reports the state of the interrupt line toward the CPU.
func (w *WD1770) NMI() bool {
	return w.nmi != 0
}

func (w *WD1770) reset() {
	w.nmi = 0
	w.status = 0
	w.fdcTime = 0
	w.motorOn = false
	w.motorSpin = motorSpinTime
}

func (w *WD1770) spinUp() {
	w.status |= statusMotorOn
	w.motorOn = true
	w.motorSpin = 0
}

func (w *WD1770) spinDown() {
	w.status &^= statusMotorOn
	w.motorOn = false
}

func (w *WD1770) setSpinDown() {
	w.motorSpin = motorSpinTime
}

// trackZero is the type I status bit for the head being over track 0.
func (w *WD1770) trackZero() uint8 {
	if w.curTrack == 0 {
		return statusTrack0
	}
	return 0
}

// write8 dispatches a bus write to the register file or the control
// latch depending on the board wiring.
func (w *WD1770) write8(addr uint16, v uint8) {
	switch w.board {
	case boardAcorn1770:
		if addr&0x0004 != 0 {
			w.writeReg(addr, v)
		} else {
			w.writeCtrlAcorn(v)
		}
	case boardMaster128:
		if addr&0x0008 != 0 {
			w.writeReg(addr, v)
		} else {
			w.writeCtrlMaster(v)
		}
	case boardSolidisk:
		if addr&0x0004 != 0 {
			w.writeCtrlSolidisk(v)
		} else {
			w.writeReg(addr, v)
		}
	default:
		fmt.Printf("wd1770: write to unfitted controller %04x: %02x\n", addr, v)
	}
}

// read8 dispatches a bus read. Unmapped addresses float high.
func (w *WD1770) read8(addr uint16) uint8 {
	switch w.board {
	case boardAcorn1770:
		if addr&0x0004 != 0 {
			return w.readReg(addr)
		}
	case boardMaster128:
		if addr&0x0008 != 0 {
			return w.readReg(addr)
		}
	case boardSolidisk:
		return w.readReg(addr)
	}
	return 0xFE
}

func (w *WD1770) writeReg(addr uint16, v uint8) {
	switch addr & 0x03 {
	case 0:
		w.writeCommand(v)
	case 1:
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: write track register %02x\n", v)
		}
		w.track = v
	case 2:
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: write sector register %02x\n", v)
		}
		w.sector = v
	case 3:
		w.nmi &^= nmiDrq
		w.status &^= statusDRQ
		w.data = v
		w.written = true
	}
}

func (w *WD1770) readReg(addr uint16) uint8 {
	switch addr & 0x03 {
	case 0:
		return w.status
	case 1:
		return w.track
	case 2:
		return w.sector
	default:
		w.nmi &^= nmiDrq
		w.status &^= statusDRQ
		return w.data
	}
}

func (w *WD1770) writeCommand(v uint8) {
	if w.status&statusBusy != 0 && v>>4 != 0xD {
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: command %02x rejected, busy\n", v)
		}
		return
	}
	w.command = v
	if v>>4 != 0xD {
		w.spinUp()
	}
	switch v >> 4 {
	case 0x0: // restore
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: restore\n")
		}
		w.status = statusMotorOn | 0x21 | w.trackZero()
		w.curTrack = 0
		w.disc.seek(w.disc.curDrive, 0)

	case 0x1: // seek
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: seek track=%d\n", w.data)
		}
		w.status = statusMotorOn | 0x21 | w.trackZero()
		w.curTrack = int(w.data)
		w.disc.seek(w.disc.curDrive, w.curTrack)

	case 0x2, 0x3: // step
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: step\n")
		}
		w.status = statusMotorOn | 0x21 | w.trackZero()
		w.curTrack += w.stepDir
		if w.curTrack < 0 {
			w.curTrack = 0
		}
		w.disc.seek(w.disc.curDrive, w.curTrack)

	case 0x4, 0x5: // step in
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: step in\n")
		}
		w.status = statusMotorOn | 0x21 | w.trackZero()
		w.curTrack++
		w.disc.seek(w.disc.curDrive, w.curTrack)
		w.stepDir = 1

	case 0x6, 0x7: // step out
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: step out\n")
		}
		w.status = statusMotorOn | 0x21 | w.trackZero()
		w.curTrack--
		if w.curTrack < 0 {
			w.curTrack = 0
		}
		w.disc.seek(w.disc.curDrive, w.curTrack)
		w.stepDir = -1

	case 0x8: // read sector
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: read sector drive=%d side=%d track=%d sector=%d dens=%v\n",
				w.disc.curDrive, w.curSide, w.track, w.sector, w.density)
		}
		w.status = statusMotorOn | statusBusy
		w.disc.readSector(w.disc.curDrive, w.sector, w.track, w.curSide, w.density)

	case 0xA: // write sector
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: write sector drive=%d side=%d track=%d sector=%d dens=%v\n",
				w.disc.curDrive, w.curSide, w.track, w.sector, w.density)
		}
		w.status = statusMotorOn | statusBusy | statusDRQ
		w.nmi |= nmiDrq
		// Wait for the first data byte before writing anything.
		w.written = false
		w.disc.writeSector(w.disc.curDrive, w.sector, w.track, w.curSide, w.density)

	case 0xC: // read address
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: read address side=%d track=%d dens=%v\n",
				w.curSide, w.track, w.density)
		}
		w.status = statusMotorOn | statusBusy
		w.disc.readAddress(w.disc.curDrive, w.track, w.curSide, w.density)

	case 0xD: // force interrupt
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: force interrupt\n")
		}
		w.fdcTime = 0
		if w.status&statusBusy != 0 {
			w.status &^= statusBusy
		} else {
			w.status = statusMotorOn | w.trackZero()
		}
		if v&0x08 != 0 && w.board.wiredNMI() {
			w.nmi = nmiIntrq
		} else {
			w.nmi = 0
		}
		w.setSpinDown()

	case 0xF: // write track
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: write track side=%d track=%d dens=%v\n",
				w.curSide, w.track, w.density)
		}
		w.status = statusMotorOn | statusBusy
		w.disc.format(w.disc.curDrive, w.track, w.curSide, w.density)

	default:
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "wd1770: bad command %02x\n", v)
		}
		w.fdcTime = 0
		if w.board.wiredNMI() {
			w.nmi = nmiIntrq
		}
		w.status = statusNotFound
		w.setSpinDown()
	}
}

func (w *WD1770) writeCtrlAcorn(v uint8) {
	if v&0x20 != 0 {
		w.reset()
	}
	w.ctrl = v
	w.disc.curDrive = int(v >> 1 & 1)
	w.curSide = int(v >> 2 & 1)
	w.density = v&0x08 == 0
}

func (w *WD1770) writeCtrlMaster(v uint8) {
	if v&0x04 != 0 {
		w.reset()
	}
	w.ctrl = v
	w.disc.curDrive = int(v >> 1 & 1)
	w.curSide = int(v >> 4 & 1)
	w.density = v&0x20 == 0
}

func (w *WD1770) writeCtrlSolidisk(v uint8) {
	w.ctrl = v
	w.disc.curDrive = int(v & 1)
	w.curSide = int(v >> 1 & 1)
	w.density = v&0x04 == 0
}

// callback completes the command in flight once its delay expires.
func (w *WD1770) callback() {
	if debugLogging {
		logging.DebugPrint(logging.DebugLog, "wd1770: command %02x complete\n", w.command)
	}
	w.fdcTime = 0
	switch w.command >> 4 {
	case 0x0, 0x1, 0x3, 0x5, 0x7:
		// Restore, seek and the track-updating step variants sync the
		// track register to the head position.
		w.track = uint8(w.curTrack)
		fallthrough
	case 0x2, 0x4, 0x6:
		w.status = statusMotorOn | w.trackZero()
		w.setSpinDown()
		if w.board.wiredNMI() {
			w.nmi |= nmiIntrq
		}

	case 0x8, 0xA, 0xF:
		w.status = statusMotorOn
		w.setSpinDown()
		if w.board.wiredNMI() {
			w.nmi |= nmiIntrq
		}

	case 0xC:
		w.status = statusMotorOn
		w.setSpinDown()
		if w.board.wiredNMI() {
			w.nmi |= nmiIntrq
		}
		// The 1770 leaves the track byte of the ID field in the sector
		// register after a read address.
		w.sector = w.track
	}
}

// deliverByte accepts one byte read from the disc.
func (w *WD1770) deliverByte(v uint8) {
	w.data = v
	w.status |= statusDRQ
	w.nmi |= nmiDrq
}

// getData hands the drive the next byte to write, or -1 on underrun.
func (w *WD1770) getData(last bool) int {
	if !w.written {
		return -1
	}
	if !last {
		w.nmi |= nmiDrq
		w.status |= statusDRQ
	}
	w.written = false
	return int(w.data)
}

// finishRead schedules command completion after a transfer.
func (w *WD1770) finishRead() {
	w.fdcTime = finishTime
}

func (w *WD1770) notFound() {
	if debugLogging {
		logging.DebugPrint(logging.DebugLog, "wd1770: not found\n")
	}
	w.errorStatus(statusNotFound)
}

func (w *WD1770) dataCRCError() {
	w.errorStatus(statusDataCRC)
}

func (w *WD1770) headerCRCError() {
	w.errorStatus(statusHeaderCRC)
}

func (w *WD1770) writeProtect() {
	w.errorStatus(statusWriteProtect)
}

func (w *WD1770) errorStatus(s uint8) {
	w.fdcTime = 0
	if w.board.wiredNMI() {
		w.nmi = nmiIntrq
	} else {
		w.nmi = 0
	}
	w.status = s
	w.setSpinDown()
}
