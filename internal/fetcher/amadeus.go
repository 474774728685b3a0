package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"flight-price-alerts/internal/offers"
	"flight-price-alerts/internal/transport"
)

const (
	amadeusTokenPath  = "/v1/security/oauth2/token"
	amadeusSearchPath = "/v2/shopping/flight-offers"
	serviceName       = "amadeus"
	tokenExpirySkew   = 30 * time.Second
)

// AmadeusOptions parameterise the Amadeus flight-offers client.
type AmadeusOptions struct {
	BaseURL          string
	ClientID         string
	ClientSecret     string
	Timeout          time.Duration
	UserAgent        string
	MaxDatePairs     int
	OutboundLocation *time.Location
	InboundLocation  *time.Location
}

// Amadeus searches flight offers through the Amadeus Self-Service API.
type Amadeus struct {
	opts    AmadeusOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time

	tokenMu sync.Mutex
	token   string
	expiry  time.Time
}

// NewAmadeus constructs an Amadeus client.
func NewAmadeus(opts AmadeusOptions, logger zerolog.Logger) *Amadeus {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://test.api.amadeus.com"
	}
	if opts.MaxDatePairs <= 0 {
		opts.MaxDatePairs = 16
	}

	return &Amadeus{
		opts:    opts,
		logger:  logger.With().Str("component", "amadeus_fetcher").Logger(),
		client:  transport.NewClient(opts.Timeout),
		baseURL: baseURL,
		now:     time.Now,
	}
}

// SearchOffers queries every departure/return date combination of req and concatenates the offers.
func (a *Amadeus) SearchOffers(ctx context.Context, req SearchRequest) ([]offers.Offer, error) {
	if a.opts.ClientID == "" || a.opts.ClientSecret == "" {
		return nil, errors.New("amadeus credentials not configured")
	}
	if req.Origin == "" || req.Destination == "" || req.DepartureFrom.IsZero() {
		return nil, errors.New("origin, destination and departure date are required")
	}

	var all []offers.Offer
	for _, pair := range req.datePairs(a.opts.MaxDatePairs) {
		found, err := a.searchPair(ctx, req, pair)
		if err != nil {
			return nil, err
		}
		all = append(all, found...)
	}
	return all, nil
}

func (a *Amadeus) searchPair(ctx context.Context, req SearchRequest, pair datePair) ([]offers.Offer, error) {
	params := url.Values{}
	params.Set("originLocationCode", strings.ToUpper(req.Origin))
	params.Set("destinationLocationCode", strings.ToUpper(req.Destination))
	params.Set("departureDate", pair.depart.String())
	if !pair.ret.IsZero() {
		params.Set("returnDate", pair.ret.String())
	}
	params.Set("adults", strconv.Itoa(req.Adults))
	if req.Currency != "" {
		params.Set("currencyCode", strings.ToUpper(req.Currency))
	}
	if req.Max > 0 {
		params.Set("max", strconv.Itoa(req.Max))
	}

	body, status, err := a.getWithToken(ctx, a.baseURL+amadeusSearchPath+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, transport.Status(serviceName, "search", status, errorDetail(body))
	}

	found, parseErr := ParseOffers(body, ParseOptions{
		Origin:           req.Origin,
		Destination:      req.Destination,
		Adults:           req.Adults,
		OutboundLocation: a.opts.OutboundLocation,
		InboundLocation:  a.opts.InboundLocation,
		FallbackCurrency: req.Currency,
	})
	if parseErr != nil {
		var mErr *offers.MalformedOfferError
		if !errors.As(parseErr, &mErr) {
			return nil, transport.Wrap(serviceName, "decode search response", parseErr)
		}
		a.logger.Warn().Err(parseErr).Str("departure", pair.depart.String()).Msg("skipped malformed offers")
	}

	a.logger.Debug().
		Str("departure", pair.depart.String()).
		Str("return", pair.ret.String()).
		Int("offers", len(found)).
		Msg("flight offers fetched")
	return found, nil
}

// getWithToken performs an authorised GET, refreshing the token once if it was rejected.
func (a *Amadeus) getWithToken(ctx context.Context, endpoint string) ([]byte, int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := a.accessToken(ctx)
		if err != nil {
			return nil, 0, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, 0, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Accept", "application/vnd.amadeus+json, application/json")
		a.setUserAgent(httpReq)

		resp, err := a.client.Do(httpReq)
		if err != nil {
			return nil, 0, transport.Wrap(serviceName, "search", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, 0, transport.Wrap(serviceName, "read search response", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			a.logger.Info().Msg("access token rejected; refreshing")
			a.invalidateToken()
			continue
		}
		return body, resp.StatusCode, nil
	}
	return nil, 0, transport.Status(serviceName, "search", http.StatusUnauthorized, "token refused after refresh")
}

func (a *Amadeus) accessToken(ctx context.Context) (string, error) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()

	if a.token != "" && a.now().Before(a.expiry) {
		return a.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", a.opts.ClientID)
	form.Set("client_secret", a.opts.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+amadeusTokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	a.setUserAgent(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", transport.Wrap(serviceName, "token", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transport.Wrap(serviceName, "read token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", transport.Status(serviceName, "token", resp.StatusCode, errorDetail(payload))
	}

	var tok tokenResponse
	if err := json.Unmarshal(payload, &tok); err != nil {
		return "", transport.Wrap(serviceName, "decode token", err)
	}
	if tok.AccessToken == "" {
		return "", transport.Status(serviceName, "token", resp.StatusCode, "empty access token")
	}

	ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenExpirySkew
	if ttl <= 0 {
		ttl = time.Minute
	}
	a.token = tok.AccessToken
	a.expiry = a.now().Add(ttl)
	return a.token, nil
}

func (a *Amadeus) invalidateToken() {
	a.tokenMu.Lock()
	a.token = ""
	a.tokenMu.Unlock()
}

func (a *Amadeus) setUserAgent(req *http.Request) {
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "flightwatch/1.0")
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// errorDetail extracts a readable message from an Amadeus error payload.
func errorDetail(payload []byte) string {
	if gjson.ValidBytes(payload) {
		for _, path := range []string{"errors.0.detail", "errors.0.title", "error_description", "error"} {
			if v := gjson.GetBytes(payload, path).String(); v != "" {
				return v
			}
		}
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

var _ OfferSearcher = (*Amadeus)(nil)
