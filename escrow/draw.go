package escrow

import "github.com/dedis/raffle/core"

// Draw is the winner slot of a raffle: either not drawn yet or drawn with a
// fixed ticket index. The only transition is NotDrawn -> Drawn.
type Draw struct {
	drawn bool
	index uint32
}

func NotDrawn() Draw {
	return Draw{}
}

// Draw returns the drawn state for index.
func (d Draw) Draw(index uint32) (Draw, error) {
	if d.drawn {
		return d, core.ErrWinnersAlreadyDrawn
	}
	return Draw{drawn: true, index: index}, nil
}

func (d Draw) IsDrawn() bool {
	return d.drawn
}

// Index returns the winning ticket and whether it has been drawn.
func (d Draw) Index() (uint32, bool) {
	return d.index, d.drawn
}
