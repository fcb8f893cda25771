// File: internal/browser/pointer.go
package browser

import (
	"math"
	"sync"

	"github.com/xkilldash9x/navigator/internal/agent"
)

type point struct{ X, Y float64 }

func (p point) add(o point) point { return point{p.X + o.X, p.Y + o.Y} }
func (p point) sub(o point) point { return point{p.X - o.X, p.Y - o.Y} }
func (p point) mul(s float64) point { return point{p.X * s, p.Y * s} }
func (p point) dist(o point) float64 { return math.Hypot(p.X-o.X, p.Y-o.Y) }
func clampTo(v, hi float64) float64 { return math.Max(0, math.Min(v, hi)) }

func (p point) within(b agent.Bounds) point {
	if !b.Known() {
		return p
	}
	return point{clampTo(p.X, float64(b.Width-1)), clampTo(p.Y, float64(b.Height-1))}
}

// pointer remembers where the cursor is and plans the glide to the next click, so
// hover handlers along the way fire before the press.
type pointer struct {
	steps    int
	viewport agent.Bounds

	mu  sync.Mutex
	pos point
}

func newPointer(steps int, viewport agent.Bounds) *pointer {
	return &pointer{steps: steps, viewport: viewport}
}

// glideTo returns the move positions ending exactly at (x, y) and records it as the
// new cursor position. With no steps configured it is a single move.
func (p *pointer) glideTo(x, y int) []point {
	to := point{float64(x), float64(y)}
	if p == nil {
		return []point{to}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	path := bezierPath(p.pos, to, p.steps)
	for i := range path {
		path[i] = path[i].within(p.viewport)
	}
	path[len(path)-1] = to
	p.pos = to
	return path
}

// easeInOutCubic accelerates then decelerates over t in [0, 1].
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// bezierPath samples a cubic Bezier from start to end at eased intervals. The
// control points bow the curve off the straight line. The start point itself is
// not included.
func bezierPath(start, end point, steps int) []point {
	dist := start.dist(end)
	if steps <= 1 || dist < 1 {
		return []point{end}
	}

	dir := end.sub(start).mul(1 / dist)
	normal := point{-dir.Y, dir.X}
	p1 := start.add(dir.mul(dist / 3)).add(normal.mul(dist * 0.1))
	p2 := start.add(dir.mul(dist * 2 / 3)).add(normal.mul(dist * 0.05))

	path := make([]point, steps)
	for i := 1; i <= steps; i++ {
		t := easeInOutCubic(float64(i) / float64(steps))
		omt := 1 - t
		path[i-1] = start.mul(omt * omt * omt).
			add(p1.mul(3 * omt * omt * t)).
			add(p2.mul(3 * omt * t * t)).
			add(end.mul(t * t * t))
	}
	return path
}
