package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/profile"
	log "github.com/sirupsen/logrus"

	"flightplan/api/model"
	"flightplan/geocode"
	"flightplan/metar"
	"flightplan/navlog"
	"flightplan/wind"
	"flightplan/xmpp"
)

// alerter is the operator-notification surface of the server, satisfied by
// xmpp.Notifier.
type alerter interface {
	Alert(kind, message string)
}

type server struct {
	cpuprofile bool
	engine     *navlog.Engine
	winds      []wind.Source
	metar      *metar.Client
	geocoder   *geocode.Client
	notifier   alerter
}

// InitServer wires the HTTP surface: the navigation-log computation, the
// METAR and geocode proxies for the map layer, and a wind probe for
// debugging forecasts.
func InitServer(cpuprofile bool, engine *navlog.Engine, winds []wind.Source, m *metar.Client, g *geocode.Client, x *xmpp.Notifier) *mux.Router {

	router := mux.NewRouter().StrictSlash(true)

	s := server{
		cpuprofile: cpuprofile,
		engine:     engine,
		winds:      winds,
		metar:      m,
		geocoder:   g,
	}
	if x != nil {
		s.notifier = x
	}

	router.HandleFunc("/navlog/-/healthz", s.healthz).Methods(http.MethodGet)

	apiV1 := router.PathPrefix("/navlog/api/v1").Subrouter()
	apiV1.HandleFunc("/route", s.route).Methods(http.MethodPost)
	apiV1.HandleFunc("/wind/{lat}/{lon}", s.wind).Methods(http.MethodGet)

	// Proxies consumed by the map layer.
	router.HandleFunc("/api/metar", s.metarProxy).Methods(http.MethodGet)
	router.HandleFunc("/api/geocode", s.geocodeProxy).Methods(http.MethodGet)

	return router
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status string `json:"status"`
	}

	json.NewEncoder(w).Encode(health{Status: "Ok"})
}

func (s *server) route(w http.ResponseWriter, req *http.Request) {
	if s.cpuprofile {
		defer profile.Start().Stop()
	}

	fields := log.Fields{
		"action":  "route",
		"request": uuid.NewString(),
	}
	if ip, err := getIp(req); err == nil {
		fields["IP"] = ip
	}
	requestLogger := log.WithFields(fields)

	var plan model.Plan
	if err := json.NewDecoder(req.Body).Decode(&plan); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requestLogger.Infof("Route %d waypoints, TAS %.0f kt at %.0f ft",
		len(plan.Waypoints), plan.Params.TrueAirspeedKt, plan.Params.CruiseAltitudeFt)

	start := time.Now()

	result, err := s.engine.Compute(req.Context(), plan.Waypoints, plan.Params)
	if err != nil {
		if errors.Is(err, navlog.ErrInsufficientWaypoints) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		requestLogger.WithError(err).Error("Route computation failed")
		writeError(w, http.StatusInternalServerError, "computation failed")
		return
	}

	requestLogger.Infof("Route took %s (%d legs)", time.Since(start).String(), len(result.Legs))

	s.notifyDegradation(result)

	json.NewEncoder(w).Encode(result)
}

// notifyDegradation raises throttled operator alerts when a computation had
// to fall back past every forecast source, or when the plan does not close
// on fuel.
func (s *server) notifyDegradation(result *navlog.Result) {
	if s.notifier == nil {
		return
	}
	if len(s.winds) > 0 {
		for _, leg := range result.Legs {
			if leg.WindSource == navlog.WindSourceManual || leg.WindSource == navlog.WindSourceNone {
				s.notifier.Alert("wind-unavailable",
					fmt.Sprintf("wind forecast unavailable, %s fallback in use", leg.WindSource))
				break
			}
		}
	}
	if result.Totals.FuelShortfall > 0 {
		s.notifier.Alert("fuel-shortfall",
			fmt.Sprintf("planned fuel short by %.1f at the configured burn rate", result.Totals.FuelShortfall))
	}
}

func (s *server) wind(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(mux.Vars(r)["lat"], 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	lon, err := strconv.ParseFloat(mux.Vars(r)["lon"], 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	altFt, _ := strconv.ParseFloat(r.URL.Query().Get("alt"), 64)

	type windResult struct {
		Wind   float64 `json:"wind"`
		Speed  float64 `json:"speed"`
		Source string  `json:"source"`
	}

	for _, src := range s.winds {
		res := src.ResolveWinds(r.Context(), []wind.Point{{ID: 0, Lat: lat, Lon: lon}}, altFt)
		if sample, found := res[0]; found {
			log.Infof("Wind %s (%f,%f) : %.1f° %.1f kt", src.Name(), lat, lon, sample.DirectionDeg, sample.SpeedKt)
			json.NewEncoder(w).Encode(windResult{Wind: sample.DirectionDeg, Speed: sample.SpeedKt, Source: src.Name()})
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *server) metarProxy(w http.ResponseWriter, r *http.Request) {
	icao := r.URL.Query().Get("icao")
	if strings.TrimSpace(icao) == "" {
		writeError(w, http.StatusBadRequest, "missing icao")
		return
	}

	report, err := s.metar.Fetch(r.Context(), icao)
	if err != nil {
		if errors.Is(err, metar.ErrMisconfigured) {
			writeError(w, http.StatusInternalServerError, "server misconfig: AVWX token not set")
			return
		}
		log.WithError(err).Warnf("METAR fetch failed for '%s'", icao)
		writeError(w, http.StatusBadGateway, "upstream error")
		return
	}

	json.NewEncoder(w).Encode(report)
}

func (s *server) geocodeProxy(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	place, err := s.geocoder.Search(r.Context(), query)
	if err != nil {
		if errors.Is(err, geocode.ErrNotFound) {
			writeError(w, http.StatusNotFound, "could not locate")
			return
		}
		log.WithError(err).Warnf("Geocode failed for '%s'", query)
		writeError(w, http.StatusBadGateway, "upstream error")
		return
	}

	json.NewEncoder(w).Encode(place)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func getIp(r *http.Request) (string, error) {
	//Get IP from the X-REAL-IP header
	ip := r.Header.Get("X-REAL-IP")
	netIP := net.ParseIP(ip)
	if netIP != nil {
		return ip, nil
	}

	//Get IP from X-FORWARDED-FOR header
	ips := r.Header.Get("X-FORWARDED-FOR")
	splitIps := strings.Split(ips, ",")
	for _, ip := range splitIps {
		netIP := net.ParseIP(ip)
		if netIP != nil {
			return ip, nil
		}
	}

	//Get IP from RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", err
	}
	netIP = net.ParseIP(ip)
	if netIP != nil {
		return ip, nil
	}
	return "", fmt.Errorf("No valid ip found")
}
