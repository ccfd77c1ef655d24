// Package tetris holds the board state of one player in a match. The model
// is fully deterministic: two games created with the same seed and fed the
// same inputs at the same tick boundaries evolve identically, which is what
// lets the match runtime run both players off a single announced seed.
package tetris

import (
	"math/rand/v2"
	"strings"
)

type piece struct {
	shape shapeMask
	x, y  int
	id    int
}

type Game struct {
	board    [Rows][Cols]int
	score    int
	lines    int
	over     bool
	cur      piece
	holdID   int
	holdUsed bool
	rng      *rand.Rand
	bag      []int
}

func New(seed int64) *Game {
	g := &Game{
		holdID: -1,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
	}
	g.fillBag()
	g.spawn()
	return g
}

func (g *Game) Score() int { return g.score }
func (g *Game) Lines() int { return g.lines }
func (g *Game) Over() bool { return g.over }

// SetOver force-finishes the game; used when a player's connection drops
// mid-match.
func (g *Game) SetOver() { g.over = true }

func (g *Game) fillBag() {
	g.bag = []int{0, 1, 2, 3, 4, 5, 6}
	g.rng.Shuffle(len(g.bag), func(i, j int) {
		g.bag[i], g.bag[j] = g.bag[j], g.bag[i]
	})
}

func (g *Game) setActive(id int) {
	g.cur = piece{
		shape: shapes[id],
		x:     Cols/2 - 2,
		y:     0,
		id:    id,
	}
	if g.collides(g.cur.x, g.cur.y) {
		g.over = true
	}
}

// spawn draws the next piece from the back of the bag, refilling first when
// the bag is empty.
func (g *Game) spawn() {
	if len(g.bag) == 0 {
		g.fillBag()
	}
	next := g.bag[len(g.bag)-1]
	g.bag = g.bag[:len(g.bag)-1]
	g.setActive(next)
	g.holdUsed = false
}

func (g *Game) collides(px, py int) bool {
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if g.cur.shape[r][c] == 0 {
				continue
			}
			br, bc := py+r, px+c
			if br < 0 || br >= Rows || bc < 0 || bc >= Cols || g.board[br][bc] != 0 {
				return true
			}
		}
	}
	return false
}

func (g *Game) lock() {
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if g.cur.shape[r][c] != 0 {
				g.board[g.cur.y+r][g.cur.x+c] = g.cur.id + 1
			}
		}
	}
	g.clearLines()
	g.spawn()
}

func (g *Game) clearLines() {
	cleared := 0
	for r := Rows - 1; r >= 0; r-- {
		full := true
		for c := 0; c < Cols; c++ {
			if g.board[r][c] == 0 {
				full = false
				break
			}
		}
		if !full {
			continue
		}
		cleared++
		for above := r; above > 0; above-- {
			g.board[above] = g.board[above-1]
		}
		g.board[0] = [Cols]int{}
		r++ // the shifted-down row needs a re-check
	}
	if cleared > 0 {
		g.lines += cleared
		g.score += lineScores[cleared]
	}
}

// Tick advances the active piece by one row of gravity, locking it when it
// cannot fall further.
func (g *Game) Tick() {
	if g.over {
		return
	}
	if !g.collides(g.cur.x, g.cur.y+1) {
		g.cur.y++
	} else {
		g.lock()
	}
}

func (g *Game) HandleInput(action string) {
	if g.over {
		return
	}
	switch action {
	case ActionLeft:
		if !g.collides(g.cur.x-1, g.cur.y) {
			g.cur.x--
		}
	case ActionRight:
		if !g.collides(g.cur.x+1, g.cur.y) {
			g.cur.x++
		}
	case ActionDown:
		if !g.collides(g.cur.x, g.cur.y+1) {
			g.cur.y++
			g.score++
		} else {
			g.lock()
		}
	case ActionRotate:
		g.rotate()
	case ActionDrop:
		dist := 0
		for !g.collides(g.cur.x, g.cur.y+1) {
			g.cur.y++
			dist++
		}
		g.score += dist * 2
		g.lock()
	case ActionHold:
		g.hold()
	}
}

// rotate turns the piece 90° clockwise in place. If the rotated placement
// collides, wall kicks of ±1 column are tried before reverting.
func (g *Game) rotate() {
	old := g.cur.shape
	var rotated shapeMask
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			rotated[c][3-r] = old[r][c]
		}
	}
	g.cur.shape = rotated
	if !g.collides(g.cur.x, g.cur.y) {
		return
	}
	if !g.collides(g.cur.x-1, g.cur.y) {
		g.cur.x--
		return
	}
	if !g.collides(g.cur.x+1, g.cur.y) {
		g.cur.x++
		return
	}
	g.cur.shape = old
}

func (g *Game) hold() {
	if g.holdUsed {
		return
	}
	cur := g.cur.id
	if g.holdID == -1 {
		g.holdID = cur
		g.spawn()
	} else {
		g.holdID, cur = cur, g.holdID
		g.setActive(cur)
	}
	g.holdUsed = true
}

// BoardSnapshot overlays the active piece onto a copy of the board and
// serializes it row-major, one digit per cell. The result is always
// Rows*Cols characters of '0'..'7'.
func (g *Game) BoardSnapshot() string {
	tmp := g.board
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if g.cur.shape[r][c] == 0 {
				continue
			}
			br, bc := g.cur.y+r, g.cur.x+c
			if br >= 0 && br < Rows && bc >= 0 && bc < Cols {
				tmp[br][bc] = g.cur.id + 1
			}
		}
	}
	var b strings.Builder
	b.Grow(Rows * Cols)
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			b.WriteByte(byte('0' + tmp[r][c]))
		}
	}
	return b.String()
}
