package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/httpclient"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/retry"
	"github.com/mitrarr/mitra-go/internal/textnorm"
)

const (
	pathLogin      = "/auth/login/"
	pathCards      = "/cards/humans/"
	pathWatchLists = "/watch-lists/"
	pathFaces      = "/objects/faces/"

	// searchLimit bounds the candidate list of FindBySimilarFields.
	searchLimit = 50
)

// ClientConfig configures an HTTPClient for one system.
type ClientConfig struct {
	BaseURL    string
	Username   string
	Password   string
	DeviceUUID string
	RateLimit  float64 // requests per second, 0 = unlimited
	Burst      int
	Retry      retry.Config // transient failures only
}

// HTTPClient implements Capability over the system's REST API. It logs in
// lazily and again whenever the token is rejected.
type HTTPClient struct {
	cfg     ClientConfig
	http    *httpclient.Client
	limiter *rate.Limiter
	log     logger.Logger

	mu         sync.Mutex
	token      string
	watchLists map[string]int64 // normalized name -> id
}

// NewHTTPClient creates a client sharing hc's connection pool.
func NewHTTPClient(cfg ClientConfig, hc *httpclient.Client, log logger.Logger) *HTTPClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := max(cfg.Burst, 1)
	if log == nil {
		log = logger.Global().Module("recognition")
	}
	return &HTTPClient{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With(logger.String("system_url", cfg.BaseURL)),
	}
}

type cardPayload struct {
	Name       string            `json:"name"`
	Active     bool              `json:"active"`
	Comment    string            `json:"comment"`
	WatchLists []int64           `json:"watch_lists"`
	Meta       map[string]string `json:"meta,omitempty"`
}

type cardPage struct {
	Results []Card `json:"results"`
}

type watchList struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// FindBySimilarFields searches cards by name within the watch list and
// returns the first that SameSubject accepts.
func (c *HTTPClient) FindBySimilarFields(ctx context.Context, f CardFields) (*Card, error) {
	const op = "find card"
	wl, err := c.watchListID(ctx, f.WatchList)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("name", f.Name)
	q.Set("watch_lists", strconv.FormatInt(wl, 10))
	q.Set("limit", strconv.Itoa(searchLimit))

	var page cardPage
	if err := c.call(ctx, op, http.MethodGet, pathCards+"?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	for i := range page.Results {
		if SameSubject(&page.Results[i], f, textnorm.Name) {
			return &page.Results[i], nil
		}
	}
	return nil, ErrNotFound
}

// CreateCard creates a card and attaches its photos. When a photo is
// refused the new card is deleted again so no empty card is left behind.
func (c *HTTPClient) CreateCard(ctx context.Context, f CardFields) (*Card, error) {
	const op = "create card"
	payload, err := c.payload(ctx, f)
	if err != nil {
		return nil, err
	}

	var card Card
	if err := c.call(ctx, op, http.MethodPost, pathCards, payload, &card); err != nil {
		return nil, err
	}

	for i, photo := range f.Photos {
		if err := c.addFace(ctx, card.ID, photo); err != nil {
			if derr := c.DeleteCard(context.WithoutCancel(ctx), card.ID); derr != nil {
				c.log.Warn("failed to remove card after photo upload failure",
					logger.Int64("card_id", card.ID), logger.Error(derr))
			}
			return nil, fmt.Errorf("photo %d: %w", i+1, err)
		}
	}

	c.log.Debug("card created", logger.Int64("card_id", card.ID), logger.Int("photos", len(f.Photos)))
	return &card, nil
}

// UpdateCard replaces the card's name, state and metadata.
func (c *HTTPClient) UpdateCard(ctx context.Context, id int64, f CardFields) (*Card, error) {
	payload, err := c.payload(ctx, f)
	if err != nil {
		return nil, err
	}
	var card Card
	if err := c.call(ctx, "update card", http.MethodPatch, cardPath(id), payload, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// DeactivateCard marks the card inactive; the system stops alerting on it.
func (c *HTTPClient) DeactivateCard(ctx context.Context, id int64) (*Card, error) {
	var card Card
	body := map[string]bool{"active": false}
	if err := c.call(ctx, "deactivate card", http.MethodPatch, cardPath(id), body, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// DeleteCard removes the card.
func (c *HTTPClient) DeleteCard(ctx context.Context, id int64) error {
	return c.call(ctx, "delete card", http.MethodDelete, cardPath(id), nil, nil)
}

func cardPath(id int64) string {
	return pathCards + strconv.FormatInt(id, 10) + "/"
}

func (c *HTTPClient) payload(ctx context.Context, f CardFields) (*cardPayload, error) {
	if strings.TrimSpace(f.Name) == "" {
		return nil, &ValidationError{Op: "build card", Detail: "card name is empty"}
	}
	wl, err := c.watchListID(ctx, f.WatchList)
	if err != nil {
		return nil, err
	}
	return &cardPayload{
		Name:       f.Name,
		Active:     f.Active,
		Comment:    f.Comment,
		WatchLists: []int64{wl},
		Meta:       f.Meta,
	}, nil
}

// watchListID resolves a watch list name, loading the list once per session.
func (c *HTTPClient) watchListID(ctx context.Context, name string) (int64, error) {
	key := textnorm.Fold(name)

	c.mu.Lock()
	cached := c.watchLists
	c.mu.Unlock()

	if cached == nil {
		var lists []watchList
		if err := c.call(ctx, "list watch lists", http.MethodGet, pathWatchLists, nil, &lists); err != nil {
			return 0, err
		}
		cached = make(map[string]int64, len(lists))
		for _, wl := range lists {
			cached[textnorm.Fold(wl.Name)] = wl.ID
		}
		c.mu.Lock()
		c.watchLists = cached
		c.mu.Unlock()
	}

	id, ok := cached[key]
	if !ok {
		return 0, &ValidationError{Op: "resolve watch list", Detail: fmt.Sprintf("watch list %q does not exist", name)}
	}
	return id, nil
}

// addFace uploads one photo to a card as multipart form data.
func (c *HTTPClient) addFace(ctx context.Context, cardID int64, photo string) error {
	const op = "add face"
	img, err := base64.StdEncoding.DecodeString(photo)
	if err != nil {
		return &ValidationError{Op: op, Detail: "photo is not valid base64"}
	}

	_, err = retry.Do(ctx, c.cfg.Retry, func(int) (struct{}, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("card", strconv.FormatInt(cardID, 10))
		fw, err := mw.CreateFormFile("source_photo", "face.jpg")
		if err != nil {
			return struct{}{}, retry.Permanent(err)
		}
		_, _ = fw.Write(img)
		if err := mw.Close(); err != nil {
			return struct{}{}, retry.Permanent(err)
		}

		token, err := c.ensureToken(ctx)
		if err != nil {
			return struct{}{}, retry.Permanent(err)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, retry.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+pathFaces, &buf)
		if err != nil {
			return struct{}{}, retry.Permanent(err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Token "+token)

		resp, err := c.http.Do(ctx, req)
		if err != nil {
			return struct{}{}, classify(ctx, op, err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return struct{}{}, nil
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if resp.StatusCode == http.StatusUnauthorized {
			c.dropToken(token)
		}
		return struct{}{}, classify(ctx, op, &httpclient.StatusError{
			Method: http.MethodPost, URL: req.URL.String(),
			StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg)),
		})
	})
	return unwrapRetry(op, err)
}

// call performs an authenticated JSON request with rate limiting and
// bounded retry of transient failures. A rejected token triggers one fresh
// login within the same attempt budget.
func (c *HTTPClient) call(ctx context.Context, op, method, path string, body, out any) error {
	_, err := retry.Do(ctx, c.cfg.Retry, func(attempt int) (struct{}, error) {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return struct{}{}, retry.Permanent(err)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, retry.Permanent(err)
		}

		header := http.Header{"Authorization": []string{"Token " + token}}
		err = c.http.JSON(ctx, method, c.cfg.BaseURL+path, header, body, out)
		if err == nil {
			return struct{}{}, nil
		}

		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			c.dropToken(token)
			c.log.Debug("token rejected, logging in again", logger.Int("attempt", attempt))
			return struct{}{}, &TransportError{Op: op, Err: err}
		}
		return struct{}{}, classify(ctx, op, err)
	})
	return unwrapRetry(op, err)
}

// classify maps an HTTP failure to a typed error. Transport errors stay
// retryable; everything else is permanent.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return retry.Permanent(ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// the per-request timeout expired, not the caller's context
		return &TransportError{Op: op, Err: err}
	}

	var se *httpclient.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusNotFound:
			return retry.Permanent(fmt.Errorf("%s: %w", op, ErrNotFound))
		case se.Temporary():
			return &TransportError{Op: op, Err: err}
		default:
			return retry.Permanent(&ValidationError{Op: op, Status: se.StatusCode, Detail: se.Body})
		}
	}

	var nerr net.Error
	var uerr *url.Error
	if errors.As(err, &nerr) || errors.As(err, &uerr) {
		return &TransportError{Op: op, Err: err}
	}
	// malformed responses will not improve with retries
	return retry.Permanent(&TransportError{Op: op, Err: err})
}

// unwrapRetry turns an exhausted retry into the last TransportError.
func unwrapRetry(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.Is(err, retry.ErrExhausted) && errors.As(err, &te) {
		return te
	}
	if errors.Is(err, retry.ErrExhausted) {
		return &TransportError{Op: op, Err: err}
	}
	return err
}

type loginResponse struct {
	Token string `json:"token"`
}

// ensureToken returns the session token, logging in when there is none.
func (c *HTTPClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+pathLogin,
		strings.NewReader(fmt.Sprintf(`{"uuid":%q}`, c.cfg.DeviceUUID)))
	if err != nil {
		return "", &TransportError{Op: "login", Err: err}
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Content-Type", "application/json")

	var out loginResponse
	if err := c.decode(ctx, req, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &ValidationError{Op: "login", Detail: "login response carried no token"}
	}
	c.token = out.Token
	c.log.Info("logged in to recognition system", logger.String("user", c.cfg.Username))
	return c.token, nil
}

func (c *HTTPClient) decode(ctx context.Context, req *http.Request, out *loginResponse) error {
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return &TransportError{Op: "login", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &TransportError{Op: "login", Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &ValidationError{Op: "login", Status: resp.StatusCode, Detail: "credentials refused"}
	case resp.StatusCode >= 500:
		return &TransportError{Op: "login", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &ValidationError{Op: "login", Status: resp.StatusCode, Detail: string(bytes.TrimSpace(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: "login", Err: err}
	}
	return nil
}

// dropToken forgets token unless another goroutine already replaced it.
func (c *HTTPClient) dropToken(token string) {
	c.mu.Lock()
	if c.token == token {
		c.token = ""
	}
	c.mu.Unlock()
}
