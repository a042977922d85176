package steg

// Position is a pixel coordinate in the walk.
type Position struct {
	Row int
	Col int
}

// Scheduler decides which pixels carry symbols. A pixel is eligible when
// row*col > Threshold; eligible pixels are visited in row-major order and an
// action happens whenever the skip countdown is zero.
type Scheduler struct {
	Width     int
	Height    int
	Threshold int
}

// State is the progress of one walk. The zero value starts at (0,0) with no
// pending skip.
type State struct {
	// Skip is the number of eligible pixels still to pass over before the
	// next action.
	Skip int

	row, col int
}

// WithSkip returns st with the countdown reloaded from a symbol value.
func (st State) WithSkip(symbol byte) State {
	st.Skip = int(symbol & lowMask)
	return st
}

// Eligible reports whether (row, col) lies beyond the insertion frontier.
func (s Scheduler) Eligible(row, col int) bool {
	return row*col > s.Threshold
}

// firstEligibleCol is the smallest col with row*col > Threshold, or Width if
// the row has none.
func (s Scheduler) firstEligibleCol(row int) int {
	if row == 0 {
		if s.Threshold < 0 {
			return 0
		}
		return s.Width
	}
	if s.Threshold < 0 {
		return 0
	}
	first := s.Threshold/row + 1
	if first > s.Width {
		return s.Width
	}
	return first
}

// Next returns the next position that receives (or yields) a symbol group
// and the state to continue from. ok is false once the image is exhausted.
// The caller reloads the countdown with WithSkip after processing the
// position.
func (s Scheduler) Next(st State) (pos Position, next State, ok bool) {
	row, col := st.row, st.col
	for row < s.Height {
		if first := s.firstEligibleCol(row); col < first {
			col = first
		}
		for ; col < s.Width; col++ {
			if st.Skip == 0 {
				st.row, st.col = row, col+1
				return Position{Row: row, Col: col}, st, true
			}
			st.Skip--
		}
		row++
		col = 0
	}
	st.row, st.col = row, col
	return Position{}, st, false
}

// EligibleCount returns the number of eligible pixels, an upper bound on the
// number of symbol groups the image can hold.
func (s Scheduler) EligibleCount() int {
	n := 0
	for row := 0; row < s.Height; row++ {
		n += s.Width - s.firstEligibleCol(row)
	}
	return n
}
