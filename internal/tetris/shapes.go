package tetris

// Board dimensions, fixed by the wire protocol: snapshots are always
// Rows*Cols characters.
const (
	Rows = 20
	Cols = 10
)

// Player input actions as they appear in INPUT frames.
const (
	ActionLeft   = "LEFT"
	ActionRight  = "RIGHT"
	ActionDown   = "DOWN"
	ActionRotate = "ROTATE"
	ActionDrop   = "DROP"
	ActionHold   = "HOLD"
)

// NumShapes is the bag size: one of each shape per refill.
const NumShapes = 7

type shapeMask [4][4]int

// Shape ids index this table; cell color on the board is id+1.
var shapes = [NumShapes]shapeMask{
	// I
	{{0, 1, 0, 0}, {0, 1, 0, 0}, {0, 1, 0, 0}, {0, 1, 0, 0}},
	// T
	{{0, 1, 0, 0}, {1, 1, 1, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}},
	// L
	{{0, 1, 0, 0}, {0, 1, 0, 0}, {0, 1, 1, 0}, {0, 0, 0, 0}},
	// J
	{{0, 1, 0, 0}, {0, 1, 0, 0}, {1, 1, 0, 0}, {0, 0, 0, 0}},
	// O
	{{1, 1, 0, 0}, {1, 1, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}},
	// S
	{{0, 1, 1, 0}, {1, 1, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}},
	// Z
	{{1, 1, 0, 0}, {0, 1, 1, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}},
}

// lineScores maps number of simultaneously cleared rows to awarded points.
var lineScores = [5]int{0, 100, 300, 500, 800}
