package xmpp

import (
	"crypto/tls"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-xmpp"
	log "github.com/sirupsen/logrus"
)

type (
	// Config for the notifier.
	Config struct {
		Host     string
		Jid      string
		Password string
		To       string
	}

	// Notifier sends operational alerts (wind service degraded, fuel
	// shortfall on a computed plan) to an operator over XMPP. Alerts are
	// throttled per kind so a flapping upstream does not flood the chat.
	Notifier struct {
		Config Config

		mu   sync.Mutex
		last map[string]time.Time
	}
)

const throttle = 30 * time.Minute

func New(config Config) *Notifier {
	return &Notifier{Config: config, last: make(map[string]time.Time)}
}

func serverName(jid string) string {
	return strings.Split(jid, "@")[1]
}

// Alert sends message unless an alert of the same kind went out recently.
// A missing configuration is not an error; the notifier just stays quiet.
func (n *Notifier) Alert(kind, message string) {
	if len(n.Config.Jid) == 0 || len(n.Config.Password) == 0 || len(n.Config.To) == 0 {
		return
	}

	if !n.shouldSend(kind) {
		return
	}

	if err := n.send(message); err != nil {
		log.WithError(err).Warnf("xmpp: error sending '%s' alert", kind)
	}
}

// shouldSend applies the per-kind throttle and records the send time.
func (n *Notifier) shouldSend(kind string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if t, found := n.last[kind]; found && time.Since(t) < throttle {
		return false
	}
	n.last[kind] = time.Now()
	return true
}

func (n *Notifier) send(message string) error {
	host := n.Config.Host
	if len(host) == 0 {
		if !strings.Contains(n.Config.Jid, "@") {
			return errors.New("invalid xmpp jid")
		}
		host = serverName(n.Config.Jid)
	}

	xmpp.DefaultConfig = tls.Config{
		InsecureSkipVerify: true,
	}

	options := xmpp.Options{
		Host:     host,
		User:     n.Config.Jid,
		Password: n.Config.Password,
		NoTLS:    true,
		StartTLS: true,
		Debug:    false,
		Session:  false,
		Status:   "xa",
	}

	talk, err := options.NewClient()
	if err != nil {
		return err
	}

	_, err = talk.Send(xmpp.Chat{Remote: n.Config.To, Type: "chat", Text: message})
	return err
}
