package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config collects the environment-driven settings: upstream endpoints,
// credentials and timeouts. Serving flags (listen address, debug, profiling)
// live on the command line instead; see main.go.
type Config struct {
	AvwxURL   string `envconfig:"AVWX_URL" default:"https://avwx.rest"`
	AvwxToken string `envconfig:"AVWX_TOKEN"`

	WindServiceURL string `envconfig:"GFS_WIND_URL"`

	NominatimURL string `envconfig:"NOMINATIM_URL" default:"https://nominatim.openstreetmap.org"`

	MagvarFile string `envconfig:"MAGVAR_FILE" default:"magvar-data/magvar.txt"`
	GribDir    string `envconfig:"GRIB_DIR" default:"grib-data"`

	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"5s"`

	XmppHost     string `envconfig:"XMPP_HOST"`
	XmppJid      string `envconfig:"XMPP_JID"`
	XmppPassword string `envconfig:"XMPP_PASSWORD"`
	XmppTo       string `envconfig:"XMPP_TO"`
}

func Load() (Config, error) {
	var c Config
	err := envconfig.Process("", &c)
	return c, err
}
