package recognition

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mitrarr/mitra-go/internal/conf"
	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/httpclient"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/retry"
)

// Dialer opens one HTTPClient per recognition system and reuses it for the
// rest of the run. All sessions share one connection pool.
type Dialer struct {
	settings conf.RecognitionSettings
	http     *httpclient.Client
	device   string
	log      logger.Logger

	mu       sync.Mutex
	sessions map[uint]*HTTPClient
}

// NewDialer creates a Dialer. When settings carry no device UUID a random
// one is used for this process.
func NewDialer(settings *conf.RecognitionSettings, hc *httpclient.Client, log logger.Logger) *Dialer {
	if log == nil {
		log = logger.Global().Module("recognition")
	}
	device := settings.DeviceUUID
	if device == "" {
		device = uuid.NewString()
	}
	return &Dialer{
		settings: *settings,
		http:     hc,
		device:   device,
		log:      log,
		sessions: make(map[uint]*HTTPClient),
	}
}

// Session returns the session for sys, creating it on first use. Login
// happens on the session's first request.
func (d *Dialer) Session(_ context.Context, sys *entities.RecognitionSystem) (Capability, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.sessions[sys.ID]; ok {
		return s, nil
	}

	cred := d.settings.CredentialsFor(sys.Name)
	s := NewHTTPClient(ClientConfig{
		BaseURL:    sys.BaseURL,
		Username:   cred.Username,
		Password:   cred.Password,
		DeviceUUID: d.device,
		RateLimit:  d.settings.RateLimit,
		Burst:      d.settings.Burst,
		Retry: retry.Config{
			Attempts: d.settings.Retries + 1,
			Delay:    d.settings.RetryDelay,
		},
	}, d.http, d.log.With(logger.String("system", sys.Name)))

	d.sessions[sys.ID] = s
	return s, nil
}

// Close releases pooled connections. Sessions stay usable.
func (d *Dialer) Close() {
	d.http.Close()
}
