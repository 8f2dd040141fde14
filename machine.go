package main

// machine ties one controller to its drive registry and the emulated
// clock that drives them. Nothing in here is shared between machines,
// so several can run side by side.
type machine struct {
	fdc   WD1770
	disc  Disc
	clock uint64
}

func newMachine(b board) *machine {
	m := &machine{}
	m.fdc.board = b
	m.fdc.disc = &m.disc
	m.disc.fdc = &m.fdc
	m.fdc.reset()
	return m
}

// tick advances the emulated clock one cycle: the controller's
// completion delay, the motor spin-down timer and the disc poll.
func (m *machine) tick() {
	m.clock++
	if m.fdc.fdcTime > 0 {
		m.fdc.fdcTime--
		if m.fdc.fdcTime == 0 {
			m.fdc.callback()
		}
	}
	if m.fdc.motorSpin > 0 {
		m.fdc.motorSpin--
		if m.fdc.motorSpin == 0 {
			m.fdc.spinDown()
		}
	}
	m.disc.poll()
}

func (m *machine) run(ticks int) {
	for i := 0; i < ticks; i++ {
		m.tick()
	}
}
