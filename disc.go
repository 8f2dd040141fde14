package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/SMerrony/dgemug/logging"
)

// How many drives hang off the controller.
const numDrives = 2

// Countdown used when a request lands on an empty drive slot, in
// ticks. Much longer than a loaded drive's own not-found delay.
const discNotFoundTime = 10000

// drive is the capability set a disc image backend exposes to the
// registry. A backend owns one image and serves one transfer at a
// time; any request made while a transfer is in flight is ignored.
type drive interface {
	close()
	seek(track int)
	readSector(sector, track uint8, side int, density bool)
	writeSector(sector, track uint8, side int, density bool)
	readAddress(track uint8, side int, density bool)
	format(track uint8, side int, density bool)
	poll()
	abort()
}

// fdc is the callback surface a drive uses to push results back into
// the controller, one unit per poll tick.
type fdc interface {
	deliverByte(v uint8)
	getData(last bool) int
	finishRead()
	notFound()
	dataCRCError()
	headerCRCError()
	writeProtect()
}

// Disc is the drive registry: a fixed pair of drive slots, the
// active-drive select and the fallback not-found countdown for
// requests no backend handled.
type Disc struct {
	drives   [numDrives]drive
	curDrive int
	notFound int
	oldTrack [numDrives]int

	fdc fdc

	// noise, if set, is told the head movement distance in tracks for
	// an audible seek cue.
	noise func(delta int)
}

// poll runs one tick: the active drive's transfer machine plus the
// registry's own not-found countdown.
func (d *Disc) poll() {
	if dr := d.drives[d.curDrive]; dr != nil {
		dr.poll()
	}
	if d.notFound > 0 {
		d.notFound--
		if d.notFound == 0 {
			d.fdc.notFound()
		}
	}
}

func (d *Disc) seek(dnum, track int) {
	if dr := d.drives[dnum]; dr != nil {
		dr.seek(track)
	}
	if d.noise != nil {
		d.noise(track - d.oldTrack[dnum])
	}
	d.oldTrack[dnum] = track
	// The head settle delay; a real machine would derive it from the
	// step distance.
	d.fdc.finishRead()
}

func (d *Disc) readSector(dnum int, sector, track uint8, side int, density bool) {
	if dr := d.drives[dnum]; dr != nil {
		dr.readSector(sector, track, side, density)
	} else {
		d.notFound = discNotFoundTime
	}
}

func (d *Disc) writeSector(dnum int, sector, track uint8, side int, density bool) {
	if dr := d.drives[dnum]; dr != nil {
		dr.writeSector(sector, track, side, density)
	} else {
		d.notFound = discNotFoundTime
	}
}

func (d *Disc) readAddress(dnum int, track uint8, side int, density bool) {
	if dr := d.drives[dnum]; dr != nil {
		dr.readAddress(track, side, density)
	} else {
		d.notFound = discNotFoundTime
	}
}

func (d *Disc) format(dnum int, track uint8, side int, density bool) {
	if dr := d.drives[dnum]; dr != nil {
		dr.format(track, side, density)
	} else {
		d.notFound = discNotFoundTime
	}
}

func (d *Disc) abort(dnum int) {
	if dr := d.drives[dnum]; dr != nil {
		dr.abort()
	} else {
		d.notFound = discNotFoundTime
	}
}

func (d *Disc) close(dnum int) {
	if dr := d.drives[dnum]; dr != nil {
		dr.close()
		d.drives[dnum] = nil
	}
}

// load opens a disc image and binds the matching backend into the
// given drive slot, replacing whatever was there.
func (d *Disc) load(dnum int, path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".fdi":
		// FDI images carry per-sector ID headers and need their own
		// backend, which this build does not carry.
		return fmt.Errorf("%s: FDI images not supported", path)
	default:
		if debugLogging {
			logging.DebugPrint(logging.DebugLog, "disc: loading %d: %s as SDF\n", dnum, path)
		}
		d.close(dnum)
		return sdfLoad(d, dnum, path)
	}
}

// newImage creates a blank ADFS image of the named format and loads
// it. Only the byte offsets the geometry probe inspects are written;
// the filesystem proper is left for the emulated machine to format.
func (d *Disc) newImage(dnum int, path string) error {
	var pokes []struct {
		off   int64
		bytes []byte
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".adf":
		pokes = []struct {
			off   int64
			bytes []byte
		}{
			{0x000, []byte{7}},
			{0x0FD, []byte{0x05, 0x00, 0x0C, 0xF9, 0x04}},
			{0x1FB, []byte{0x88, 0x39, 0x00, 0x03, 0xC1, 0x00, 'H', 'u', 'g', 'o'}},
			{0x6CC, []byte{0x24}},
			{0x6D6, []byte{0x02, 0x00, 0x00, 0x24}},
			{0x6FB, []byte{'H', 'u', 'g', 'o'}},
		}
	case ".adl":
		pokes = []struct {
			off   int64
			bytes []byte
		}{
			{0x000, []byte{7}},
			{0x0FD, []byte{0x0A, 0x00, 0x11, 0xF9, 0x09}},
			{0x1FB, []byte{0x01, 0x84, 0x00, 0x03, 0x8A, 0x00, 'H', 'u', 'g', 'o'}},
			{0x6CC, []byte{0x24}},
			{0x6D6, []byte{0x02, 0x00, 0x00, 0x24}},
			{0x6FB, []byte{'H', 'u', 'g', 'o'}},
		}
	default:
		return fmt.Errorf("%s: creating new discs of format %q not supported", path, ext)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create disc image: %w", err)
	}
	for _, p := range pokes {
		if _, err := f.WriteAt(p.bytes, p.off); err != nil {
			f.Close()
			return fmt.Errorf("write disc image %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write disc image %s: %w", path, err)
	}
	return d.load(dnum, path)
}
