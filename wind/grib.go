package wind

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jasonlvhit/gocron"
	"github.com/nilsmagnus/grib/griblib"
	log "github.com/sirupsen/logrus"

	"flightplan/latlon"
)

const msToKt = 1.9438444924406

// grib holds the 10m u/v wind grids of one GFS GRIB2 file.
type grib struct {
	date time.Time
	file string
	lat0 float64
	lon0 float64
	ΔLat float64
	ΔLon float64
	nLat uint32
	nLon uint32
	u    [][]float64
	v    [][]float64
}

// GribSource serves winds from GFS GRIB2 files dropped in a local directory,
// for when the remote forecast service is unreachable. File names follow the
// usual download layout: <run stamp>.f<forecast hour>, e.g. 2026083100.f003.
//
// Cruise altitude is ignored: the files carry 10m surface wind only.
type GribSource struct {
	dir string

	mu        sync.RWMutex
	forecasts map[string]*grib
}

func NewGribSource(dir string) *GribSource {
	g := &GribSource{dir: dir, forecasts: make(map[string]*grib)}
	if err := g.Scan(); err != nil {
		log.WithError(err).Warnf("wind: error scanning grib directory '%s'", dir)
	}
	return g
}

// StartRefresh rescans the grib directory on a schedule so freshly
// downloaded forecasts get picked up without a restart.
func (g *GribSource) StartRefresh() {
	s := gocron.NewScheduler()
	job := s.Every(15).Minutes()
	job.Do(g.Scan)
	go s.Start()
}

func (g *GribSource) Name() string {
	return "grib"
}

// Scan loads new forecast files and drops entries whose files are gone.
func (g *GribSource) Scan() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var toRemove []string
	for stamp, f := range g.forecasts {
		if _, err := os.Stat(filepath.Join(g.dir, f.file)); os.IsNotExist(err) {
			toRemove = append(toRemove, stamp)
		}
	}
	for _, stamp := range toRemove {
		log.Infof("wind: remove forecast %s", stamp)
		delete(g.forecasts, stamp)
	}

	var files []string
	err := filepath.Walk(g.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.WithError(err).Errorf("wind: error walking file '%s'", path)
		} else if info.Mode().IsRegular() && !strings.HasSuffix(info.Name(), ".tmp") {
			files = append(files, info.Name())
		}
		return nil
	})
	if err != nil {
		return err
	}

	sort.Strings(files)

	for _, file := range files {
		parts := strings.Split(file, ".")
		if len(parts) != 2 || len(parts[1]) < 2 || parts[1][0] != 'f' {
			continue
		}
		h, err := strconv.Atoi(parts[1][1:])
		if err != nil {
			log.WithError(err).Errorf("wind: error getting hour from file '%s'", file)
			continue
		}
		t, err := time.Parse("2006010215", parts[0])
		if err != nil {
			log.WithError(err).Errorf("wind: error parsing date from file '%s'", file)
			continue
		}
		t = t.Add(time.Hour * time.Duration(h))
		stamp := t.Format("2006010215")

		if loaded, found := g.forecasts[stamp]; found && loaded.file == file {
			continue
		}

		w, err := loadGrib(filepath.Join(g.dir, file), t)
		if err != nil {
			log.WithError(err).Errorf("wind: error loading grib file '%s'", file)
			continue
		}
		log.Debugf("wind: init %s %s", stamp, file)
		g.forecasts[stamp] = w
	}

	return nil
}

// ResolveWinds interpolates every point from the forecasts bracketing now.
func (g *GribSource) ResolveWinds(ctx context.Context, points []Point, altFt float64) map[int]Sample {
	out := make(map[int]Sample, len(points))

	w1, w2, h := g.findForecasts(time.Now().UTC())
	if w1 == nil {
		return out
	}

	for _, p := range points {
		u, v, ok := w1.interpolate(p.Lat, p.Lon)
		if !ok {
			continue
		}
		if w2 != nil {
			u2, v2, ok2 := w2.interpolate(p.Lat, p.Lon)
			if ok2 {
				u = u2*h + u*(1-h)
				v = v2*h + v*(1-h)
			}
		}
		d := math.Sqrt(u*u + v*v)
		out[p.ID] = Sample{
			DirectionDeg: latlon.Wrap360(vectorToDegrees(u, v, d)),
			SpeedKt:      d * msToKt,
		}
	}
	return out
}

func (g *GribSource) ResolveWindAtCentroid(ctx context.Context, points []latlon.LatLon, altFt float64) *Sample {
	c, ok := Centroid(points)
	if !ok {
		return nil
	}
	res := g.ResolveWinds(ctx, []Point{{ID: 0, Lat: c.Lat, Lon: c.Lon}}, altFt)
	if sample, found := res[0]; found {
		return &sample
	}
	return nil
}

// findForecasts returns the forecasts bracketing m and the fractional
// position of m between them.
func (g *GribSource) findForecasts(m time.Time) (*grib, *grib, float64) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.forecasts) == 0 {
		return nil, nil, 0
	}

	stamp := m.Format("2006010215")

	keys := make([]string, 0, len(g.forecasts))
	for k := range g.forecasts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if keys[0] > stamp {
		return g.forecasts[keys[0]], nil, 0
	}
	for i := range keys {
		if keys[i] > stamp {
			h := m.Sub(g.forecasts[keys[i-1]].date).Minutes()
			delta := g.forecasts[keys[i]].date.Sub(g.forecasts[keys[i-1]].date).Minutes()
			return g.forecasts[keys[i-1]], g.forecasts[keys[i]], h / delta
		}
	}
	return g.forecasts[keys[len(keys)-1]], nil, 0
}

func loadGrib(path string, date time.Time) (*grib, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	w := &grib{date: date, file: filepath.Base(path)}

	messages, err := griblib.ReadMessages(f)
	if err != nil {
		return nil, err
	}
	for _, message := range messages {
		if message.Section0.Discipline != uint8(0) ||
			message.Section4.ProductDefinitionTemplate.ParameterCategory != uint8(2) ||
			message.Section4.ProductDefinitionTemplate.FirstSurface.Type != 103 ||
			message.Section4.ProductDefinitionTemplate.FirstSurface.Value != 10 {
			continue
		}
		grid0, ok := message.Section3.Definition.(*griblib.Grid0)
		if !ok {
			continue
		}
		w.setGeometry(int64(grid0.La1), int64(grid0.Lo1), int64(grid0.Di), int64(grid0.Dj), uint32(grid0.Ni), uint32(grid0.Nj))
		if message.Section4.ProductDefinitionTemplate.ParameterNumber == 2 {
			w.u = w.buildGrid(message.Section7.Data)
		} else if message.Section4.ProductDefinitionTemplate.ParameterNumber == 3 {
			w.v = w.buildGrid(message.Section7.Data)
		}
	}

	return w, nil
}

// setGeometry takes the raw microdegree grid definition. Convert before
// dividing: integer division would floor a sub-degree increment (0.25°
// files carry an increment of 250000) to zero.
func (w *grib) setGeometry(la1, lo1, di, dj int64, ni, nj uint32) {
	w.lat0 = float64(la1) / 1e6
	w.lon0 = float64(lo1) / 1e6
	w.ΔLat = float64(di) / 1e6
	w.ΔLon = float64(dj) / 1e6
	w.nLat = nj
	w.nLon = ni
}

func (w *grib) buildGrid(data []float64) [][]float64 {
	isContinuous := math.Floor(float64(w.nLon)*w.ΔLon) >= 360

	nLon := w.nLon
	if isContinuous {
		nLon++
	}

	grid := make([][]float64, w.nLat)

	p := 0
	for j := uint32(0); j < w.nLat; j++ {
		grid[j] = make([]float64, nLon)
		for i := uint32(0); i < w.nLon; i++ {
			grid[j][i] = data[p]
			p++
		}
		if isContinuous {
			grid[j][w.nLon] = grid[j][0]
		}
	}
	return grid
}

// interpolate returns the u/v components at (lat, lon) by bilinear blending
// of the four surrounding grid nodes. ok is false when the point falls
// outside the grid or the file was missing a component.
func (w *grib) interpolate(lat, lon float64) (float64, float64, bool) {
	if w.u == nil || w.v == nil || w.ΔLat == 0 || w.ΔLon == 0 {
		return 0, 0, false
	}

	i := math.Abs((lat - w.lat0) / w.ΔLat)
	j := floorMod(lon-w.lon0, 360.0) / w.ΔLon

	fi := uint32(i)
	fj := uint32(j)

	if fi+1 >= uint32(len(w.u)) || fj+1 >= uint32(len(w.u[0])) {
		return 0, 0, false
	}

	u, v := bilinearInterpolate(j-float64(fj), i-float64(fi),
		[2]float64{w.u[fi][fj], w.v[fi][fj]},
		[2]float64{w.u[fi][fj+1], w.v[fi][fj+1]},
		[2]float64{w.u[fi+1][fj], w.v[fi+1][fj]},
		[2]float64{w.u[fi+1][fj+1], w.v[fi+1][fj+1]})

	return u, v, true
}

func floorMod(a float64, n float64) float64 {
	return a - n*math.Floor(a/n)
}

func bilinearInterpolate(x float64, y float64, g00, g10, g01, g11 [2]float64) (float64, float64) {
	rx := (1 - x)
	ry := (1 - y)

	a := rx * ry
	b := x * ry
	c := rx * y
	d := x * y

	u := g00[0]*a + g10[0]*b + g01[0]*c + g11[0]*d
	v := g00[1]*a + g10[1]*b + g01[1]*c + g11[1]*d

	return u, v
}

// vectorToDegrees converts u/v components to the direction the wind blows
// from, in degrees true.
func vectorToDegrees(u float64, v float64, d float64) float64 {
	if d == 0 {
		return 0
	}
	velocityDir := math.Atan2(u/d, v/d)
	return velocityDir*180/math.Pi + 180
}
