package runloop

import (
	"github.com/basket/goclaw-runloop/internal/rlmode"
	"github.com/basket/goclaw-runloop/internal/source"
)

type source0Entry struct {
	src   source.Source0
	modes []rlmode.Mode
	seq   int64
}

type source1Entry struct {
	src    source.Source1
	modes  []rlmode.Mode
	seq    int64
	cancel func()
}

type timerEntry struct {
	timer Timer
	modes []rlmode.Mode
	seq   int64
}

func expandModes(modes []rlmode.Mode) []rlmode.Mode {
	if len(modes) == 0 {
		return []rlmode.Mode{rlmode.Default}
	}
	var out []rlmode.Mode
	for _, m := range modes {
		out = append(out, m.Expand()...)
	}
	return out
}

func modeActive(entryModes []rlmode.Mode, active rlmode.Mode) bool {
	for _, a := range active.Expand() {
		for _, m := range entryModes {
			if m == a {
				return true
			}
		}
	}
	return false
}
