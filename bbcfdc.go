// bbcfdc emulates the BBC Micro's WD1770 floppy disc controller and
// its drives, with an interactive monitor for exercising them.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/SMerrony/dgemug/logging"
	"github.com/alecthomas/kong"
)

var debugLogging bool

func main() {
	var cli struct {
		Run  runCmd  `cmd:"" default:"1" help:"run the controller with an interactive monitor"`
		Info infoCmd `cmd:"" help:"print the inferred geometry of a disc image"`
		New  newCmd  `cmd:"" help:"create a blank ADFS disc image"`
	}

	ctx := kong.Parse(&cli)
	err := ctx.Run(&kong.Context{})
	ctx.FatalIfErrorf(err)
}

type runCmd struct {
	Disc0 string `name:"disc0" type:"existingfile" help:"image for drive 0"`
	Disc1 string `name:"disc1" type:"existingfile" help:"image for drive 1"`
	Board string `name:"board" default:"acorn" enum:"acorn,master,solidisk" help:"controller board wiring"`
	WProt bool   `name:"wprot" help:"treat loaded images as write protected"`
	Debug bool   `name:"debug" help:"write debug logs to logs/ on exit"`
}

func boardFromName(name string) board {
	switch name {
	case "master":
		return boardMaster128
	case "solidisk":
		return boardSolidisk
	default:
		return boardAcorn1770
	}
}

func (r *runCmd) Run(ctx *kong.Context) error {
	debugLogging = r.Debug
	m := newMachine(boardFromName(r.Board))
	m.disc.noise = func(delta int) {
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "ddnoise: seek %d tracks\n", delta)
		}
	}
	if r.Disc0 != "" {
		if err := m.disc.load(0, r.Disc0); err != nil {
			return err
		}
	}
	if r.Disc1 != "" {
		if err := m.disc.load(1, r.Disc1); err != nil {
			return err
		}
	}
	if r.WProt {
		for i := 0; i < numDrives; i++ {
			if s, ok := m.disc.drives[i].(*sdf); ok {
				s.writeProt = true
			}
		}
	}
	mon := &monitor{m: m, out: os.Stdout, dens: true}
	mon.updateCtrl()
	mon.loop(os.Stdin)
	if debugLogging {
		os.MkdirAll("logs", 0755)
		logging.DebugLogsDump("logs/")
	}
	return nil
}

type infoCmd struct {
	Image string `arg:"" name:"image" type:"existingfile" help:"disc image to inspect"`
}

func (i *infoCmd) Run(ctx *kong.Context) error {
	f, err := os.Open(i.Image)
	if err != nil {
		return err
	}
	defer f.Close()
	geo := tryADFSNew(f)
	if geo == nil {
		geo = tryADFSOld(f)
	}
	if geo == nil {
		geo = tryDFS(f)
	}
	if geo == nil {
		return fmt.Errorf("unable to determine geometry for %s", i.Image)
	}
	fmt.Printf("Image   : %s\n", i.Image)
	fmt.Printf("Format  : %s\n", geo.name)
	fmt.Printf("Sides   : %s\n", geo.sides)
	fmt.Printf("Density : %s\n", geo.density)
	fmt.Printf("Tracks  : %d\n", geo.tracks)
	fmt.Printf("Sectors : %d per track, %d bytes each (%d total)\n",
		geo.sectorsPerTrack, geo.sectorSize, geo.sizeInSectors)
	return nil
}

type newCmd struct {
	Image string `arg:"" name:"image" help:"path of the image to create (.adf or .adl)"`
}

func (n *newCmd) Run(ctx *kong.Context) error {
	m := newMachine(boardAcorn1770)
	if err := m.disc.newImage(0, n.Image); err != nil {
		return err
	}
	drv, ok := m.disc.drives[0].(*sdf)
	if !ok {
		return fmt.Errorf("%s: no backend bound after creation", n.Image)
	}
	fmt.Printf("Created %s as %s\n", n.Image, drv.geo.name)
	m.disc.close(0)
	return nil
}

// Cap on how long the monitor will wait for a command to finish, in
// ticks. Longer than the registry's empty-drive delay.
const monitorMaxTicks = 200000

// monitor is a line-based exerciser for the controller, in the style
// of an emulator's operator console.
type monitor struct {
	m     *machine
	out   io.Writer
	drive int
	side  int
	dens  bool
}

func (mon *monitor) loop(in io.Reader) {
	sc := bufio.NewScanner(in)
	fmt.Fprintln(mon.out, "bbcfdc monitor, 'help' for commands")
	for {
		fmt.Fprint(mon.out, "fdc> ")
		if !sc.Scan() {
			return
		}
		words := strings.Fields(sc.Text())
		if len(words) == 0 {
			continue
		}
		if !mon.doCommand(words) {
			return
		}
	}
}

// doCommand executes one monitor command, returning false to quit.
func (mon *monitor) doCommand(words []string) bool {
	switch words[0] {
	case "help", "h":
		mon.help()
	case "regs":
		mon.showRegs()
	case "drive", "side", "dens":
		mon.setSelect(words)
	case "restore":
		mon.typeI(0x00)
	case "seek":
		if t, ok := mon.num(words, 1); ok {
			mon.m.fdc.write8(mon.base()|3, uint8(t))
			mon.typeI(0x10)
		}
	case "step":
		mon.typeI(0x30)
	case "in":
		mon.typeI(0x50)
	case "out":
		mon.typeI(0x70)
	case "rd":
		mon.readSector(words)
	case "wr":
		mon.writeSector(words)
	case "ra":
		mon.readAddress()
	case "fmt":
		mon.format(words)
	case "forceint":
		mon.m.fdc.write8(mon.base(), 0xD8)
		mon.showRegs()
	case "abort":
		mon.m.disc.abort(mon.drive)
	case "insert":
		if len(words) < 3 {
			fmt.Fprintln(mon.out, "usage: insert <drive> <image>")
			break
		}
		if d, ok := mon.num(words, 1); ok {
			if err := mon.m.disc.load(d, words[2]); err != nil {
				fmt.Fprintf(mon.out, "insert: %v\n", err)
			}
		}
	case "eject":
		if d, ok := mon.num(words, 1); ok {
			mon.m.disc.close(d)
		}
	case "save":
		if len(words) < 2 {
			fmt.Fprintln(mon.out, "usage: save <file>")
			break
		}
		if err := os.WriteFile(words[1], mon.m.SaveState(), 0644); err != nil {
			fmt.Fprintf(mon.out, "save: %v\n", err)
		}
	case "load":
		if len(words) < 2 {
			fmt.Fprintln(mon.out, "usage: load <file>")
			break
		}
		data, err := os.ReadFile(words[1])
		if err == nil {
			err = mon.m.LoadState(data)
		}
		if err != nil {
			fmt.Fprintf(mon.out, "load: %v\n", err)
		}
	case "quit", "q", "exit":
		return false
	default:
		fmt.Fprintf(mon.out, "unknown command %q\n", words[0])
	}
	return true
}

func (mon *monitor) help() {
	fmt.Fprint(mon.out, `regs                 show controller registers
drive <0|1>          select drive
side <0|1>           select side
dens <s|d>           select density
restore              seek to track 0
seek <track>         seek to track
step | in | out      step the head
rd <track> <sector>  read a sector
wr <track> <sector> <byte>  fill a sector
ra                   read the next sector address
fmt <track>          format (zero) a track
forceint             force interrupt
abort                abort the drive's transfer in flight
insert <drive> <image> / eject <drive>
save <file> / load <file>   controller save states
quit
`)
}

func (mon *monitor) base() uint16 {
	return mon.m.fdc.board.regBase()
}

func (mon *monitor) num(words []string, i int) (int, bool) {
	if i >= len(words) {
		fmt.Fprintf(mon.out, "%s: missing argument\n", words[0])
		return 0, false
	}
	n, err := strconv.Atoi(words[i])
	if err != nil {
		fmt.Fprintf(mon.out, "%s: bad number %q\n", words[0], words[i])
		return 0, false
	}
	return n, true
}

func (mon *monitor) showRegs() {
	w := &mon.m.fdc
	fmt.Fprintf(mon.out, "status=%02X track=%02X sector=%02X data=%02X nmi=%v motor=%v head=%d\n",
		w.read8(mon.base()), w.track, w.sector, w.data, w.NMI(), w.motorOn, w.curTrack)
}

func (mon *monitor) setSelect(words []string) {
	switch words[0] {
	case "drive":
		if d, ok := mon.num(words, 1); ok && d >= 0 && d < numDrives {
			mon.drive = d
		}
	case "side":
		if s, ok := mon.num(words, 1); ok && (s == 0 || s == 1) {
			mon.side = s
		}
	case "dens":
		if len(words) > 1 {
			mon.dens = words[1] != "s"
		}
	}
	mon.updateCtrl()
}

// updateCtrl rewrites the board control latch from the monitor's
// drive/side/density selection.
func (mon *monitor) updateCtrl() {
	b := mon.m.fdc.board
	mon.m.fdc.write8(b.ctrlAddr(), b.ctrlBits(mon.drive, mon.side, mon.dens))
}

// complete ticks the machine until the controller goes un-busy,
// reading delivered bytes and feeding fill on DRQ when asked to.
func (mon *monitor) complete(collect bool, feed bool, fill uint8) []uint8 {
	w := &mon.m.fdc
	var got []uint8
	for i := 0; i < monitorMaxTicks; i++ {
		if w.status&statusDRQ != 0 {
			if feed {
				w.write8(mon.base()|3, fill)
			} else if collect {
				got = append(got, w.read8(mon.base()|3))
			}
		}
		if w.status&statusBusy == 0 {
			return got
		}
		mon.m.tick()
	}
	fmt.Fprintln(mon.out, "command did not complete")
	return got
}

func (mon *monitor) typeI(cmd uint8) {
	mon.m.fdc.write8(mon.base(), cmd)
	mon.complete(false, false, 0)
	mon.showRegs()
}

func (mon *monitor) readSector(words []string) {
	t, ok := mon.num(words, 1)
	if !ok {
		return
	}
	s, ok := mon.num(words, 2)
	if !ok {
		return
	}
	w := &mon.m.fdc
	w.write8(mon.base()|1, uint8(t))
	w.write8(mon.base()|2, uint8(s))
	w.write8(mon.base(), 0x80)
	data := mon.complete(true, false, 0)
	mon.dump(data)
	mon.showRegs()
}

func (mon *monitor) writeSector(words []string) {
	t, ok := mon.num(words, 1)
	if !ok {
		return
	}
	s, ok := mon.num(words, 2)
	if !ok {
		return
	}
	v, ok := mon.num(words, 3)
	if !ok {
		return
	}
	w := &mon.m.fdc
	w.write8(mon.base()|1, uint8(t))
	w.write8(mon.base()|2, uint8(s))
	w.write8(mon.base(), 0xA0)
	mon.complete(false, true, uint8(v))
	mon.showRegs()
}

func (mon *monitor) readAddress() {
	w := &mon.m.fdc
	w.write8(mon.base(), 0xC0)
	id := mon.complete(true, false, 0)
	if len(id) >= 6 {
		fmt.Fprintf(mon.out, "track %d side %d sector %d size %d crc %02X%02X\n",
			id[0], id[1], id[2], 128<<id[3], id[4], id[5])
	}
	mon.showRegs()
}

func (mon *monitor) format(words []string) {
	t, ok := mon.num(words, 1)
	if !ok {
		return
	}
	w := &mon.m.fdc
	w.write8(mon.base()|1, uint8(t))
	w.write8(mon.base(), 0xF0)
	mon.complete(false, false, 0)
	mon.showRegs()
}

// dump prints a hex/ASCII dump of a sector.
func (mon *monitor) dump(data []uint8) {
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Fprintf(mon.out, "%04X ", i)
		for j := i; j < end; j++ {
			fmt.Fprintf(mon.out, " %02X", data[j])
		}
		fmt.Fprint(mon.out, "  ")
		for j := i; j < end; j++ {
			c := data[j]
			if c < 32 || c > 126 {
				c = '.'
			}
			fmt.Fprintf(mon.out, "%c", c)
		}
		fmt.Fprintln(mon.out)
	}
}
