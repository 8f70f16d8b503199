package magvar

import (
	"bufio"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// minSamples is the number of parsed grid points below which the provider
// gives up on the resource and switches to the analytic approximation.
const minSamples = 16

type sample struct {
	Lat float64
	Lon float64
}

type grid struct {
	lats   []float64
	lons   []float64
	values map[sample]float64
}

// Provider answers magnetic variation lookups from a grid of sample points
// loaded once from a text file. The sign convention is the one used on a
// nav log: the returned value is added to a true heading to obtain the
// magnetic heading.
//
// The grid is built on first use and then reused for the lifetime of the
// process. When the resource is missing or yields too few points the
// provider degrades to a linear approximation tuned for the Japan region
// instead of failing.
type Provider struct {
	file string

	group singleflight.Group
	mu    sync.RWMutex
	grid  *grid
	built bool
}

func New(file string) *Provider {
	return &Provider{file: file}
}

// VariationAt returns the magnetic variation in degrees at the given
// position. It never fails: resource problems degrade to an approximation.
func (p *Provider) VariationAt(lat, lon float64) float64 {
	g := p.ensure()
	if g == nil {
		return approximate(lat, lon)
	}
	return g.lookup(lat, lon)
}

// Degraded reports whether lookups are served by the fallback approximation.
func (p *Provider) Degraded() bool {
	p.ensure()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.grid == nil
}

// Reload drops the cached grid so the next lookup re-reads the resource.
func (p *Provider) Reload() {
	p.mu.Lock()
	p.grid = nil
	p.built = false
	p.mu.Unlock()
}

func (p *Provider) ensure() *grid {
	p.mu.RLock()
	if p.built {
		g := p.grid
		p.mu.RUnlock()
		return g
	}
	p.mu.RUnlock()

	// Concurrent first lookups share one load instead of each parsing the
	// resource.
	v, _, _ := p.group.Do("load", func() (interface{}, error) {
		p.mu.RLock()
		if p.built {
			g := p.grid
			p.mu.RUnlock()
			return g, nil
		}
		p.mu.RUnlock()

		g := load(p.file)

		p.mu.Lock()
		p.grid = g
		p.built = true
		p.mu.Unlock()
		return g, nil
	})
	g, _ := v.(*grid)
	return g
}

// approximate is the degraded-mode variation model, a plane fit around
// central Japan.
func approximate(lat, lon float64) float64 {
	return -(7 + (lat-35)*0.5 + (lon-135)*0.3)
}

func load(file string) *grid {
	f, err := os.Open(file)
	if err != nil {
		log.WithError(err).Warnf("magvar: cannot open '%s', using approximation", file)
		return nil
	}
	defer f.Close()

	values := make(map[sample]float64)
	latSet := make(map[float64]bool)
	lonSet := make(map[float64]bool)

	scanner := bufio.NewScanner(f)
	skipped := 0
	for scanner.Scan() {
		lat, lon, v, ok := parseLine(scanner.Text())
		if !ok {
			skipped++
			continue
		}
		s := sample{Lat: lat, Lon: lon}
		values[s] = v
		latSet[lat] = true
		lonSet[lon] = true
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Warnf("magvar: error reading '%s', using approximation", file)
		return nil
	}

	if len(values) < minSamples {
		log.Warnf("magvar: only %d samples in '%s' (%d lines skipped), using approximation", len(values), file, skipped)
		return nil
	}
	if skipped > 0 {
		log.Infof("magvar: loaded %d samples from '%s' (%d lines skipped)", len(values), file, skipped)
	} else {
		log.Infof("magvar: loaded %d samples from '%s'", len(values), file)
	}

	g := &grid{values: values}
	for lat := range latSet {
		g.lats = append(g.lats, lat)
	}
	for lon := range lonSet {
		g.lons = append(g.lons, lon)
	}
	sort.Float64s(g.lats)
	sort.Float64s(g.lons)

	return g
}

// parseLine extracts (lat, lon, degrees, minutes) from one resource line.
// Degree and minute markers are stripped; lines with fewer than four numeric
// tokens are rejected.
func parseLine(line string) (lat, lon, value float64, ok bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '°', '′', '\'', '″', '"', ',', ';':
			return ' '
		}
		return r
	}, line)

	var nums []float64
	for _, tok := range strings.Fields(cleaned) {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		nums = append(nums, v)
	}
	if len(nums) < 4 {
		return 0, 0, 0, false
	}

	lat, lon = nums[0], nums[1]
	deg, min := nums[2], nums[3]
	value = deg
	if deg < 0 {
		value -= min / 60.0
	} else {
		value += min / 60.0
	}
	return lat, lon, value, true
}

// bracket finds the pair of sample lines surrounding x, clamping to the edge
// cell when x is outside the sampled range, and the fractional position of x
// inside the pair.
func bracket(lines []float64, x float64) (lo, hi float64, t float64) {
	n := len(lines)
	if n == 1 {
		return lines[0], lines[0], 0
	}

	i := sort.SearchFloat64s(lines, x)
	switch {
	case i <= 0:
		lo, hi = lines[0], lines[1]
	case i >= n:
		lo, hi = lines[n-2], lines[n-1]
	default:
		lo, hi = lines[i-1], lines[i]
	}

	t = (x - lo) / (hi - lo)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return lo, hi, t
}

func (g *grid) lookup(lat, lon float64) float64 {
	lat0, lat1, ty := bracket(g.lats, lat)
	lon0, lon1, tx := bracket(g.lons, lon)

	corners := []sample{
		{Lat: lat0, Lon: lon0},
		{Lat: lat0, Lon: lon1},
		{Lat: lat1, Lon: lon0},
		{Lat: lat1, Lon: lon1},
	}

	vals := make([]float64, 4)
	missing := 0
	for i, c := range corners {
		v, found := g.values[c]
		if !found {
			missing++
			vals[i] = math.NaN()
			continue
		}
		vals[i] = v
	}
	if missing == 4 {
		return approximate(lat, lon)
	}
	if missing > 0 {
		for i, c := range corners {
			if !math.IsNaN(vals[i]) {
				continue
			}
			vals[i] = g.nearestCorner(corners, vals, c)
		}
	}

	// Same weighting as a wind-grid cell: blend the four corners by the
	// fractional position inside the cell.
	rx := 1 - tx
	ry := 1 - ty
	return vals[0]*rx*ry + vals[1]*tx*ry + vals[2]*rx*ty + vals[3]*tx*ty
}

// nearestCorner substitutes a missing corner with the value of the closest
// corner that has one.
func (g *grid) nearestCorner(corners []sample, vals []float64, missing sample) float64 {
	best := math.NaN()
	bestDist := math.Inf(1)
	for i, c := range corners {
		if math.IsNaN(vals[i]) {
			continue
		}
		d := math.Abs(c.Lat-missing.Lat) + math.Abs(c.Lon-missing.Lon)
		if d < bestDist {
			bestDist = d
			best = vals[i]
		}
	}
	return best
}
