package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/peterbourgon/ff"
	log "github.com/sirupsen/logrus"

	"flightplan/api"
	"flightplan/config"
	"flightplan/geocode"
	"flightplan/magvar"
	"flightplan/metar"
	"flightplan/navlog"
	"flightplan/wind"
	"flightplan/xmpp"
)

func main() {

	fs := flag.NewFlagSet("flightplan", flag.ExitOnError)
	var (
		listen     = fs.String("listen", ":8080", "listen address")
		debug      = fs.Bool("debug", false, "enable debug logging")
		cpuprofile = fs.Bool("cpuprofile", false, "profile route computations")
		magvarFile = fs.String("magvar-file", "", "override magnetic variation resource path")
		gribDir    = fs.String("grib-dir", "", "override local grib directory")
	)
	ff.Parse(fs, os.Args[1:], ff.WithEnvVarNoPrefix())

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Error loading configuration")
	}
	if *magvarFile != "" {
		cfg.MagvarFile = *magvarFile
	}
	if *gribDir != "" {
		cfg.GribDir = *gribDir
	}

	log.Info("Load magnetic variation grid")
	variation := magvar.New(cfg.MagvarFile)

	var sources []wind.Source
	if cfg.WindServiceURL != "" {
		sources = append(sources, wind.NewService(cfg.WindServiceURL, cfg.UpstreamTimeout))
	} else {
		log.Warn("No wind service configured")
	}

	log.Info("Load grib forecasts")
	grib := wind.NewGribSource(cfg.GribDir)
	grib.StartRefresh()
	sources = append(sources, grib)

	engine := navlog.NewEngine(variation, sources...)

	metarClient := metar.New(cfg.AvwxURL, cfg.AvwxToken, cfg.UpstreamTimeout)
	metarClient.StartSweeper()

	geocoder := geocode.New(cfg.NominatimURL, cfg.UpstreamTimeout)

	notifier := xmpp.New(xmpp.Config{
		Host:     cfg.XmppHost,
		Jid:      cfg.XmppJid,
		Password: cfg.XmppPassword,
		To:       cfg.XmppTo,
	})

	log.Info("Start server")

	router := api.InitServer(*cpuprofile, engine, sources, metarClient, geocoder, notifier)

	handler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(handlers.CompressHandler(router))

	log.Fatal(http.ListenAndServe(*listen, handler))
}
