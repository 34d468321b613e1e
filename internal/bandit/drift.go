package bandit

import (
	"math"
	"sort"
)

// ring is a fixed-capacity FIFO of arm ids. Callers hold the tenant lock.
type ring struct {
	items []string
	head  int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 100
	}
	return &ring{items: make([]string, capacity)}
}

// push appends id and returns the evicted id, if any.
func (r *ring) push(id string) (evicted string, ok bool) {
	if r.size == len(r.items) {
		evicted, ok = r.items[r.head], true
	} else {
		r.size++
	}
	r.items[r.head] = id
	r.head = (r.head + 1) % len(r.items)
	return evicted, ok
}

func (r *ring) full() bool { return r.size == len(r.items) }

func (r *ring) clear() {
	r.head = 0
	r.size = 0
}

// driftDetector compares the arm-selection distribution of the most recent
// window against every selection that has already left the window.
type driftDetector struct {
	window    *ring
	recent    map[string]float64
	history   map[string]float64
	historyN  float64
	threshold float64
}

func newDriftDetector(window int, threshold float64) *driftDetector {
	return &driftDetector{
		window:    newRing(window),
		recent:    make(map[string]float64),
		history:   make(map[string]float64),
		threshold: threshold,
	}
}

// observe records a selection. It returns the divergence and whether it
// crossed the threshold. Nothing is evaluated until the window is full and
// history holds at least one window of selections.
func (d *driftDetector) observe(armID string) (float64, bool) {
	d.recent[armID]++
	if old, ok := d.window.push(armID); ok {
		d.recent[old]--
		if d.recent[old] <= 0 {
			delete(d.recent, old)
		}
		d.history[old]++
		d.historyN++
	}

	if !d.window.full() || d.historyN < float64(len(d.window.items)) {
		return 0, false
	}
	js := jensenShannon(d.recent, float64(d.window.size), d.history, d.historyN)
	return js, js >= d.threshold
}

func (d *driftDetector) reset() {
	d.window.clear()
	d.recent = make(map[string]float64)
	d.history = make(map[string]float64)
	d.historyN = 0
}

// jensenShannon returns the base-2 Jensen-Shannon divergence of two count
// distributions, in [0, 1]. Keys are visited in sorted order.
func jensenShannon(p map[string]float64, pn float64, q map[string]float64, qn float64) float64 {
	if pn <= 0 || qn <= 0 {
		return 0
	}
	keys := make([]string, 0, len(p)+len(q))
	for k := range p {
		keys = append(keys, k)
	}
	for k := range q {
		if _, ok := p[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var js float64
	for _, k := range keys {
		pi := p[k] / pn
		qi := q[k] / qn
		m := (pi + qi) / 2
		if pi > 0 {
			js += 0.5 * pi * math.Log2(pi/m)
		}
		if qi > 0 {
			js += 0.5 * qi * math.Log2(qi/m)
		}
	}
	return math.Max(0, math.Min(1, js))
}
