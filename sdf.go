package main

// Backend for the simple disc formats: images that store their sectors
// in logical order with no ID headers. The geometry (sector size,
// sectors per track, whether the sides are interleaved as in DSD
// images or sequential as in SSD) is worked out once at load time by
// inspecting the Acorn filing system structures in the image itself.

import (
	"fmt"
	"os"

	"github.com/SMerrony/dgemug/logging"
)

type sides int

const (
	sidesNA sides = iota
	sidesSingle
	sidesSequential
	sidesInterleaved
)

func (s sides) String() string {
	switch s {
	case sidesSingle:
		return "single-sided"
	case sidesSequential:
		return "double-sided, sequential"
	case sidesInterleaved:
		return "double-sided, interleaved"
	}
	return "unknown"
}

type density int

const (
	densNA density = iota
	densSingle
	densDouble
	densQuad
)

func (d density) String() string {
	switch d {
	case densSingle:
		return "single density"
	case densDouble:
		return "double density"
	case densQuad:
		return "quad density"
	}
	return "unknown"
}

// geometry describes one physical disc layout from the catalogue.
type geometry struct {
	name            string
	sides           sides
	density         density
	sizeInSectors   uint16
	tracks          uint8
	sectorsPerTrack uint8
	sectorSize      uint16
}

// sectorOffset is the byte offset of a sector within the image file.
func (g *geometry) sectorOffset(sector, track uint8, side int) int64 {
	trackBytes := int64(g.sectorsPerTrack) * int64(g.sectorSize)
	var offset int64
	if side == 0 {
		offset = int64(track) * trackBytes
		if g.sides == sidesInterleaved {
			offset *= 2
		}
	} else if g.sides == sidesSequential {
		offset = (int64(track) + int64(g.tracks)) * trackBytes
	} else {
		offset = (int64(track)*2 + 1) * trackBytes
	}
	return offset + int64(sector)*int64(g.sectorSize)
}

// The catalogues are matched first entry wins, so the order matters
// where entries share a sector count.

var adfsNewFormats = []geometry{
	{"Acorn ADFS F", sidesInterleaved, densQuad, 1600, 80, 10, 1024},
	{"Acorn ADFS D", sidesInterleaved, densDouble, 800, 80, 5, 1024},
}

var adfsOldFormats = []geometry{
	{"Acorn ADFS L", sidesInterleaved, densDouble, 2560, 80, 16, 256},
	{"Acorn ADFS M", sidesSingle, densDouble, 1280, 80, 16, 256},
	{"Acorn ADFS S", sidesSingle, densDouble, 640, 40, 16, 256},
}

var dfsFormats = []geometry{
	{"Watford/Opus DDFS", sidesInterleaved, densDouble, 1440, 80, 18, 256},
	{"Watford/Opus DDFS", sidesSequential, densDouble, 1440, 80, 18, 256},
	{"Watford/Opus DDFS", sidesSingle, densDouble, 1440, 80, 18, 256},
	{"Watford/Opus DDFS", sidesInterleaved, densDouble, 720, 40, 18, 256},
	{"Watford/Opus DDFS", sidesSequential, densDouble, 720, 40, 18, 256},
	{"Watford/Opus DDFS", sidesSingle, densDouble, 720, 40, 18, 256},

	{"Solidisk DDFS", sidesInterleaved, densDouble, 1280, 80, 16, 256},
	{"Solidisk DDFS", sidesSequential, densDouble, 1280, 80, 16, 256},
	{"Solidisk DDFS", sidesSingle, densDouble, 1280, 80, 16, 256},
	{"Solidisk DDFS", sidesInterleaved, densDouble, 640, 40, 16, 256},
	{"Solidisk DDFS", sidesSequential, densDouble, 640, 40, 16, 256},
	{"Solidisk DDFS", sidesSingle, densDouble, 640, 40, 16, 256},

	{"Acorn DFS", sidesInterleaved, densSingle, 800, 80, 10, 256},
	{"Acorn DFS", sidesSequential, densSingle, 800, 80, 10, 256},
	{"Acorn DFS", sidesSingle, densSingle, 800, 80, 10, 256},
	{"Acorn DFS", sidesInterleaved, densSingle, 400, 40, 10, 256},
	{"Acorn DFS", sidesSequential, densSingle, 400, 40, 10, 256},
	{"Acorn DFS", sidesSingle, densSingle, 400, 40, 10, 256},
}

// checkID reports whether the bytes at posn match id. Reads past the
// end of the file simply fail the match.
func checkID(f *os.File, posn int64, id string) bool {
	buf := make([]byte, len(id))
	if _, err := f.ReadAt(buf, posn); err != nil {
		return false
	}
	return string(buf) == id
}

// tryADFSNew probes for the new-map ADFS formats: a "Nick" directory
// signature and an exact file size.
func tryADFSNew(f *os.File) *geometry {
	if checkID(f, 0x401, "Nick") || checkID(f, 0x801, "Nick") {
		fi, err := f.Stat()
		if err != nil {
			return nil
		}
		for i := range adfsNewFormats {
			g := &adfsNewFormats[i]
			if fi.Size() == int64(g.sizeInSectors)*int64(g.sectorSize) {
				return g
			}
		}
	}
	return nil
}

// tryADFSOld probes for the old-map ADFS formats: "Hugo" directory
// signatures and the sector count from the free space map.
func tryADFSOld(f *os.File) *geometry {
	if checkID(f, 0x201, "Hugo") && checkID(f, 0x6FB, "Hugo") {
		var b [3]byte
		if _, err := f.ReadAt(b[:], 0xFC); err != nil {
			return nil
		}
		sects := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
		for i := range adfsOldFormats {
			g := &adfsOldFormats[i]
			if sects == uint32(g.sizeInSectors) {
				return g
			}
		}
	}
	return nil
}

// dfsSectorCount reads the 10-bit sector count from a DFS catalogue
// starting at base. Returns false if the read fails.
func dfsSectorCount(f *os.File, base int64) (uint32, bool) {
	var b [2]byte
	if _, err := f.ReadAt(b[:], base+0x106); err != nil {
		return 0, false
	}
	return uint32(b[0]&3)<<8 + uint32(b[1]), true
}

// tryDFS probes for the DFS formats. Double-sided layouts are only
// accepted if the catalogue on side 2 agrees with side 0.
func tryDFS(f *os.File) *geometry {
	sects0, ok := dfsSectorCount(f, 0)
	if !ok {
		return nil
	}
	for i := range dfsFormats {
		g := &dfsFormats[i]
		if sects0 != uint32(g.sizeInSectors) {
			continue
		}
		if g.sides == sidesSingle {
			return g
		}
		trackBytes := int64(g.sectorsPerTrack) * int64(g.sectorSize)
		side2 := trackBytes
		if g.sides == sidesSequential {
			side2 = int64(g.tracks) * trackBytes
		}
		if sects2, ok := dfsSectorCount(f, side2); ok && sects2 == sects0 {
			return g
		}
	}
	return nil
}

type sdfState int

const (
	stIdle sdfState = iota
	stNotFound
	stReadSector
	stWriteSector
	stReadAddr0
	stReadAddr1
	stReadAddr2
	stReadAddr3
	stReadAddr4
	stReadAddr5
	stReadAddr6
	stFormat
)

// The transfer machine does real I/O only every pollDivide-th tick.
const pollDivide = 16

// Validation failures resolve to not-found after this many slow ticks.
const notFoundCount = 500

// sdf serves one drive slot from a simple-format image file.
type sdf struct {
	disc *Disc
	num  int
	fp   *os.File
	geo  *geometry

	writeProt bool
	curTrack  uint8

	state  sdfState
	count  int
	time   int
	offset int64
	side   int
	track  uint8
	sector uint8
}

// sdfLoad infers the geometry of the image at path and, on success,
// binds a new backend for it into drive slot dnum. The image is
// opened read-write where possible, falling back to read-only with
// the drive treated as write protected.
func sdfLoad(d *Disc, dnum int, path string) error {
	writeProt := false
	fp, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		fp, err = os.Open(path)
		if err != nil {
			return fmt.Errorf("unable to open disc image: %w", err)
		}
		writeProt = true
	}
	geo := tryADFSNew(fp)
	if geo == nil {
		geo = tryADFSOld(fp)
	}
	if geo == nil {
		geo = tryDFS(fp)
	}
	if geo == nil {
		fp.Close()
		return fmt.Errorf("unable to determine geometry for %s", path)
	}
	if debugLogging {
		logging.DebugPrint(logging.DebugLog, "sdf: loaded drive %d with %s, format %s, %s, %d tracks, %s, %d %d byte sectors/track\n",
			dnum, path, geo.name, geo.sides, geo.tracks, geo.density, geo.sectorsPerTrack, geo.sectorSize)
	}
	d.drives[dnum] = &sdf{
		disc:      d,
		num:       dnum,
		fp:        fp,
		geo:       geo,
		writeProt: writeProt,
	}
	return nil
}

func (s *sdf) close() {
	s.geo = nil
	if s.fp != nil {
		s.fp.Close()
		s.fp = nil
	}
}

func (s *sdf) seek(track int) {
	s.curTrack = uint8(track)
}

func (s *sdf) abort() {
	s.state = stIdle
}

// validate checks a request against the image geometry: density class,
// head on the requested track, track and side in range.
func (s *sdf) validate(track uint8, side int, density bool) bool {
	if s.geo == nil {
		return false
	}
	if density {
		if s.geo.density != densDouble {
			return false
		}
	} else {
		if s.geo.density != densSingle {
			return false
		}
	}
	if track != s.curTrack || track >= s.geo.tracks {
		return false
	}
	if side != 0 && s.geo.sides == sidesSingle {
		return false
	}
	return true
}

func (s *sdf) setNotFound() {
	s.count = notFoundCount
	s.state = stNotFound
}

func (s *sdf) readSector(sector, track uint8, side int, density bool) {
	if s.state != stIdle {
		return
	}
	if s.validate(track, side, density) && sector < s.geo.sectorsPerTrack {
		s.offset = s.geo.sectorOffset(sector, track, side)
		s.count = int(s.geo.sectorSize)
		s.state = stReadSector
		return
	}
	s.setNotFound()
}

func (s *sdf) writeSector(sector, track uint8, side int, density bool) {
	if s.state != stIdle {
		return
	}
	if s.validate(track, side, density) && sector < s.geo.sectorsPerTrack {
		s.offset = s.geo.sectorOffset(sector, track, side)
		s.count = int(s.geo.sectorSize)
		s.side = side
		s.track = track
		s.sector = sector
		// Head start for the CPU to supply the first byte.
		s.time = -20
		s.state = stWriteSector
		return
	}
	s.setNotFound()
}

func (s *sdf) readAddress(track uint8, side int, density bool) {
	if s.state != stIdle {
		return
	}
	if s.validate(track, side, density) {
		s.side = side
		s.track = track
		s.state = stReadAddr0
		return
	}
	s.setNotFound()
}

func (s *sdf) format(track uint8, side int, density bool) {
	if s.state != stIdle {
		return
	}
	if s.validate(track, side, density) {
		s.offset = s.geo.sectorOffset(0, track, side)
		s.side = side
		s.track = track
		s.sector = 0
		s.count = int(s.geo.sectorSize)
		s.state = stFormat
		return
	}
	s.setNotFound()
}

func (s *sdf) readByte() uint8 {
	var b [1]byte
	if _, err := s.fp.ReadAt(b[:], s.offset); err != nil {
		// Short images read as unformatted space.
		b[0] = 0
	}
	s.offset++
	return b[0]
}

func (s *sdf) writeByte(v uint8) {
	if _, err := s.fp.WriteAt([]byte{v}, s.offset); err != nil {
		logging.DebugPrint(logging.DebugLog, "sdf: write failed on drive %d: %v\n", s.num, err)
	}
	s.offset++
}

// poll advances the transfer machine by one tick. One unit of work
// (a byte, an error, a completion) happens per slow tick.
func (s *sdf) poll() {
	s.time++
	if s.time <= pollDivide {
		return
	}
	s.time = 0

	switch s.state {
	case stIdle:

	case stNotFound:
		s.count--
		if s.count == 0 {
			s.disc.fdc.notFound()
			s.state = stIdle
		}

	case stReadSector:
		s.disc.fdc.deliverByte(s.readByte())
		s.count--
		if s.count == 0 {
			s.disc.fdc.finishRead()
			s.state = stIdle
		}

	case stWriteSector:
		if s.writeProt {
			if debugLogging {
				logging.DebugPrint(logging.DebugLog, "sdf: write protected during write sector\n")
			}
			s.disc.fdc.writeProtect()
			s.state = stIdle
			break
		}
		s.count--
		c := s.disc.fdc.getData(s.count == 0)
		if c == -1 {
			if debugLogging {
				logging.DebugPrint(logging.DebugLog, "sdf: data underrun on write\n")
			}
			s.count++
		} else {
			s.writeByte(uint8(c))
			if s.count == 0 {
				s.disc.fdc.finishRead()
				s.state = stIdle
			}
		}

	case stReadAddr0:
		s.disc.fdc.deliverByte(s.track)
		s.state = stReadAddr1

	case stReadAddr1:
		s.disc.fdc.deliverByte(uint8(s.side))
		s.state = stReadAddr2

	case stReadAddr2:
		s.disc.fdc.deliverByte(s.sector)
		s.state = stReadAddr3

	case stReadAddr3:
		// Sector size code and two CRC placeholder bytes.
		s.disc.fdc.deliverByte(1)
		s.state = stReadAddr4

	case stReadAddr4:
		s.disc.fdc.deliverByte(0)
		s.state = stReadAddr5

	case stReadAddr5:
		s.disc.fdc.deliverByte(0)
		s.state = stReadAddr6

	case stReadAddr6:
		s.disc.fdc.finishRead()
		// The sector cursor keeps spinning: the next read address
		// picks up at the following ID field.
		s.sector++
		if s.sector == s.geo.sectorsPerTrack {
			s.sector = 0
		}
		s.state = stIdle

	case stFormat:
		if s.writeProt {
			if debugLogging {
				logging.DebugPrint(logging.DebugLog, "sdf: write protected during write track\n")
			}
			s.disc.fdc.writeProtect()
			s.state = stIdle
			break
		}
		s.writeByte(0)
		s.count--
		if s.count == 0 {
			s.sector++
			if s.sector >= s.geo.sectorsPerTrack {
				s.disc.fdc.finishRead()
				s.state = stIdle
			} else {
				s.count = int(s.geo.sectorSize)
			}
		}
	}
}
