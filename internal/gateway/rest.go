package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/pkg/circuitbreaker"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const signatureHeader = "X-Signature"

type RestConfig struct {
	ID            string
	BaseURL       string
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	ReturnURL     string
	Timeout       time.Duration
}

// RestProvider talks to a JSON REST payment service provider using OAuth
// client credentials.
type RestProvider struct {
	cfg     RestConfig
	client  *http.Client
	tokens  *TokenCache
	breaker *circuitbreaker.Breaker[[]byte]
	log     *zap.Logger
}

func NewRestProvider(cfg RestConfig, log *zap.Logger) *RestProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &RestProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tokens:  NewTokenCache(DefaultTokenSkew),
		breaker: circuitbreaker.New[[]byte](circuitbreaker.Settings{Name: "provider-" + cfg.ID}, log),
		log:     log,
	}
}

func (p *RestProvider) ID() string { return p.cfg.ID }

func (p *RestProvider) Channels() []domain.Channel {
	return []domain.Channel{domain.ChannelWebhook, domain.ChannelPoll}
}

type restPayment struct {
	ID          string `json:"id"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	RedirectURL string `json:"redirect_url"`
	Reason      string `json:"failure_reason"`
}

func (p *RestProvider) Begin(ctx context.Context, order *domain.Order) (*Session, error) {
	req := map[string]string{
		"reference":  order.ID,
		"amount":     order.AmountDue.StringFixed(domain.MoneyPlaces),
		"currency":   order.Currency,
		"return_url": p.cfg.ReturnURL,
	}
	var pay restPayment
	if _, err := p.call(ctx, http.MethodPost, "/v1/payments", req, &pay); err != nil {
		return nil, err
	}
	if pay.RedirectURL == "" {
		return nil, fmt.Errorf("%w: payment created without redirect url", domain.ErrExternalProvider)
	}
	return &Session{RedirectURL: pay.RedirectURL, ProviderRef: pay.ID}, nil
}

func (p *RestProvider) FetchStatus(ctx context.Context, providerRef string) (*StatusReport, error) {
	var pay restPayment
	raw, err := p.call(ctx, http.MethodGet, "/v1/payments/reference/"+url.PathEscape(providerRef), nil, &pay)
	if err != nil {
		return nil, err
	}
	return pay.report(raw)
}

type restWebhook struct {
	EventID string      `json:"event_id"`
	Type    string      `json:"type"`
	Payment restPayment `json:"data"`
}

// ParseWebhook checks the HMAC-SHA256 signature over the raw body before
// trusting anything in it.
func (p *RestProvider) ParseWebhook(_ context.Context, body []byte, headers http.Header) (*StatusReport, error) {
	if !p.validSignature(body, headers.Get(signatureHeader)) {
		return nil, domain.Validationf("webhook signature mismatch")
	}
	var hook restWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, domain.Validationf("malformed webhook body: %v", err)
	}
	return hook.Payment.report(body)
}

func (p *RestProvider) validSignature(body []byte, signature string) bool {
	if p.cfg.WebhookSecret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (pay restPayment) report(raw []byte) (*StatusReport, error) {
	if pay.Reference == "" {
		return nil, domain.Validationf("payment without merchant reference")
	}
	r := &StatusReport{
		OrderID:       pay.Reference,
		ProviderTxnID: pay.ID,
		Currency:      strings.ToUpper(pay.Currency),
		Reason:        pay.Reason,
		Raw:           raw,
	}
	switch pay.Status {
	case "succeeded", "captured", "paid":
		r.State = PaymentSucceeded
	case "failed", "declined", "cancelled", "expired":
		r.State = PaymentFailed
	default:
		r.State = PaymentPending
	}
	if pay.Amount != "" {
		amount, err := decimal.NewFromString(pay.Amount)
		if err != nil {
			return nil, domain.Validationf("malformed payment amount %q", pay.Amount)
		}
		r.Amount = decimal.NewNullDecimal(amount)
	}
	return r, nil
}

// call sends an authorized request. A 401 drops the cached token and the
// request is retried once with a fresh one.
func (p *RestProvider) call(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return nil, err
		}
	}

	raw, err := p.breaker.Execute(func() ([]byte, error) {
		raw, err := p.do(ctx, method, path, body)
		if errors.Is(err, errUnauthorized) {
			p.tokens.Invalidate()
			raw, err = p.do(ctx, method, path, body)
		}
		return raw, err
	})
	if err != nil {
		if circuitbreaker.IsOpen(err) {
			return nil, fmt.Errorf("%w: %s unavailable: %v", domain.ErrExternalProvider, p.cfg.ID, err)
		}
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%w: malformed response: %v", domain.ErrExternalProvider, err)
		}
	}
	return raw, nil
}

var errUnauthorized = errors.New("provider rejected access token")

func (p *RestProvider) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	token, err := p.tokens.Get(ctx, p.fetchToken)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s request failed: %v", domain.ErrExternalProvider, p.cfg.ID, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrExternalProvider, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errUnauthorized
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s %s responded %d", domain.ErrExternalProvider, method, path, resp.StatusCode)
	}
	return raw, nil
}

func (p *RestProvider) fetchToken(ctx context.Context) (Token, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("%w: token request failed: %v", domain.ErrExternalProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("%w: token endpoint responded %d", domain.ErrExternalProvider, resp.StatusCode)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Token{}, fmt.Errorf("%w: malformed token response: %v", domain.ErrExternalProvider, err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: empty access token", domain.ErrExternalProvider)
	}
	p.log.Debug("provider token refreshed", zap.String("provider", p.cfg.ID), zap.Int("expires_in", tr.ExpiresIn))
	return Token{Value: tr.AccessToken, ExpiresAt: time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)}, nil
}
