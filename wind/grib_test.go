package wind

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func uniformGrid(rows, cols int, value float64) [][]float64 {
	g := make([][]float64, rows)
	for j := range g {
		g[j] = make([]float64, cols)
		for i := range g[j] {
			g[j][i] = value
		}
	}
	return g
}

func uniformGrib(date time.Time, u, v float64) *grib {
	return &grib{
		date: date,
		lat0: 50.0,
		lon0: 120.0,
		ΔLat: 1.0,
		ΔLon: 1.0,
		nLat: 40,
		nLon: 40,
		u:    uniformGrid(40, 40, u),
		v:    uniformGrid(40, 40, v),
	}
}

func TestVectorToDegrees(t *testing.T) {
	cases := []struct {
		u, v float64
		want float64
	}{
		{0, -1, 360}, // blowing toward south = from north
		{-1, 0, 90},  // from east
		{0, 1, 180},  // from south
		{1, 0, 270},  // from west
	}
	for _, c := range cases {
		d := math.Sqrt(c.u*c.u + c.v*c.v)
		got := vectorToDegrees(c.u, c.v, d)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("vectorToDegrees(%f,%f) = %f; want %f", c.u, c.v, got, c.want)
		}
	}
}

func TestBilinearInterpolateCenter(t *testing.T) {
	u, v := bilinearInterpolate(0.5, 0.5,
		[2]float64{0, 0}, [2]float64{2, 4}, [2]float64{4, 8}, [2]float64{6, 12})
	if u != 3.0 || v != 6.0 {
		t.Errorf("bilinearInterpolate center = (%f,%f); want (3,6)", u, v)
	}
}

func TestGribInterpolate(t *testing.T) {
	w := uniformGrib(time.Now(), 3.0, 4.0)

	u, v, ok := w.interpolate(35.3, 139.7)
	if !ok {
		t.Fatal("interpolate reported out of grid")
	}
	if u != 3.0 || v != 4.0 {
		t.Errorf("interpolate = (%f,%f); want (3,4)", u, v)
	}

	// Outside the grid.
	if _, _, ok := w.interpolate(35.0, 60.0); ok {
		t.Error("interpolate accepted a point outside the grid")
	}
}

func TestSetGeometrySubDegree(t *testing.T) {
	// Quarter-degree files carry increments of 250000 microdegrees; the
	// division must not floor them to zero.
	w := &grib{}
	w.setGeometry(50_500_000, 120_250_000, 250_000, 250_000, 1440, 721)

	if w.lat0 != 50.5 || w.lon0 != 120.25 {
		t.Errorf("origin = (%f,%f); want (50.5,120.25)", w.lat0, w.lon0)
	}
	if w.ΔLat != 0.25 || w.ΔLon != 0.25 {
		t.Errorf("increments = (%f,%f); want (0.25,0.25)", w.ΔLat, w.ΔLon)
	}
	if w.nLon != 1440 || w.nLat != 721 {
		t.Errorf("dimensions = (%d,%d); want (1440,721)", w.nLon, w.nLat)
	}
}

func TestGribInterpolateSubDegreeGrid(t *testing.T) {
	w := &grib{
		lat0: 50.0,
		lon0: 120.0,
		ΔLat: 0.25,
		ΔLon: 0.25,
		nLat: 80,
		nLon: 80,
		u:    uniformGrid(80, 80, 3.0),
		v:    uniformGrid(80, 80, 4.0),
	}

	u, v, ok := w.interpolate(35.1, 132.6)
	if !ok {
		t.Fatal("interpolate rejected a point inside a quarter-degree grid")
	}
	if u != 3.0 || v != 4.0 {
		t.Errorf("interpolate = (%f,%f); want (3,4)", u, v)
	}
}

func TestFindForecastsBrackets(t *testing.T) {
	now := time.Now().UTC()
	before := now.Add(-2 * time.Hour).Truncate(time.Hour)
	after := now.Add(2 * time.Hour).Truncate(time.Hour)

	g := &GribSource{forecasts: map[string]*grib{
		before.Format("2006010215"): uniformGrib(before, 1, 0),
		after.Format("2006010215"):  uniformGrib(after, 3, 0),
	}}

	w1, w2, h := g.findForecasts(now)
	if w1 == nil || w2 == nil {
		t.Fatal("findForecasts did not bracket now")
	}
	if !w1.date.Equal(before) || !w2.date.Equal(after) {
		t.Errorf("findForecasts order wrong: %v %v", w1.date, w2.date)
	}
	if h <= 0 || h >= 1 {
		t.Errorf("findForecasts fraction = %f; want in (0,1)", h)
	}

	// Only past forecasts: latest wins, no blending.
	g = &GribSource{forecasts: map[string]*grib{
		before.Format("2006010215"): uniformGrib(before, 1, 0),
	}}
	w1, w2, _ = g.findForecasts(now)
	if w1 == nil || w2 != nil {
		t.Error("findForecasts with one old forecast should return it alone")
	}
}

func TestFindForecastsEmpty(t *testing.T) {
	g := &GribSource{forecasts: map[string]*grib{}}
	if w1, _, _ := g.findForecasts(time.Now()); w1 != nil {
		t.Error("findForecasts on empty source returned a forecast")
	}
}

func TestGribResolveWinds(t *testing.T) {
	now := time.Now().UTC()
	stamp := now.Add(-time.Hour).Truncate(time.Hour)

	// 10 m/s blowing toward south, i.e. wind from north.
	g := &GribSource{forecasts: map[string]*grib{
		stamp.Format("2006010215"): uniformGrib(stamp, 0, -10),
	}}

	res := g.ResolveWinds(context.Background(), []Point{
		{ID: 0, Lat: 35.0, Lon: 139.0},
		{ID: 7, Lat: 35.0, Lon: 60.0}, // outside the grid
	}, 4500)

	s, found := res[0]
	if !found {
		t.Fatal("ResolveWinds missed an in-grid point")
	}
	if s.DirectionDeg != 0 {
		t.Errorf("DirectionDeg = %f; want 0", s.DirectionDeg)
	}
	if math.Abs(s.SpeedKt-10*msToKt) > 1e-9 {
		t.Errorf("SpeedKt = %f; want %f", s.SpeedKt, 10*msToKt)
	}

	if _, found := res[7]; found {
		t.Error("ResolveWinds returned data for a point outside the grid")
	}
}

func TestScanIgnoresJunk(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"README", "2026083100.f003.tmp", "notadate.fxx"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("junk"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	g := NewGribSource(dir)
	if len(g.forecasts) != 0 {
		t.Errorf("Scan loaded %d forecasts from junk files; want 0", len(g.forecasts))
	}
}
