package salesforce

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Provider opens sessions with username/password login.
type Provider struct {
	APIVersion        string
	CallTimeout       time.Duration
	RequestsPerSecond float64
	// LoginURL overrides the login host, e.g. for tests. When empty the
	// host is https://{domain}.salesforce.com.
	LoginURL string
	// MaxPayload caps every response body; zero means DefaultMaxPayload.
	MaxPayload int64

	client *http.Client
	log    *zap.Logger
}

// NewProvider returns a provider with a tuned HTTP transport.
func NewProvider(log *zap.Logger, apiVersion string, callTimeout time.Duration, rps float64) *Provider {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Provider{
		APIVersion:        apiVersion,
		CallTimeout:       callTimeout,
		RequestsPerSecond: rps,
		client:            &http.Client{Transport: tr},
		log:               log.Named("salesforce"),
	}
}

func (p *Provider) loginEndpoint(domain Domain) string {
	base := p.LoginURL
	if base == "" {
		base = "https://" + string(domain) + ".salesforce.com"
	}
	return strings.TrimRight(base, "/") + "/services/Soap/u/" + p.APIVersion
}

func (p *Provider) limiter() *rate.Limiter {
	if p.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(p.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(p.RequestsPerSecond), burst)
}

type loginEnvelope struct {
	Body struct {
		LoginResponse struct {
			Result struct {
				SessionID string `xml:"sessionId"`
				ServerURL string `xml:"serverUrl"`
			} `xml:"result"`
		} `xml:"loginResponse"`
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

const loginTemplate = `<?xml version="1.0" encoding="utf-8" ?>
<env:Envelope xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:env="http://schemas.xmlsoap.org/soap/envelope/">
<env:Body><n1:login xmlns:n1="urn:partner.soap.sforce.com"><n1:username>%USERNAME%</n1:username><n1:password>%PASSWORD%</n1:password></n1:login></env:Body>
</env:Envelope>`

func xmlEscape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// Authenticate logs in and returns a session. Bad credentials yield AuthError.
func (p *Provider) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, AuthError.Wrap(err)
	}

	body := strings.NewReplacer(
		"%USERNAME%", xmlEscape(creds.Username),
		"%PASSWORD%", xmlEscape(creds.Password+creds.SecurityToken),
	).Replace(loginTemplate)

	ctx, cancel := context.WithTimeout(ctx, p.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.loginEndpoint(creds.Domain), strings.NewReader(body))
	if err != nil {
		return nil, AuthError.Wrap(err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", "login")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, AuthError.New("login %s: %v", creds.Username, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, AuthError.New("login %s: read response: %v", creds.Username, err)
	}

	var env loginEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, AuthError.New("login %s: http %d: decode response: %v", creds.Username, resp.StatusCode, err)
	}
	if env.Body.Fault != nil {
		return nil, AuthError.New("login %s: %s", creds.Username, env.Body.Fault.String)
	}

	result := env.Body.LoginResponse.Result
	if result.SessionID == "" || result.ServerURL == "" {
		return nil, AuthError.New("login %s: http %d: no session in response", creds.Username, resp.StatusCode)
	}

	server, err := url.Parse(result.ServerURL)
	if err != nil {
		return nil, AuthError.New("login %s: bad server url: %v", creds.Username, err)
	}

	p.log.Info("authenticated",
		zap.String("username", creds.Username),
		zap.String("instance", server.Host))

	return &Session{
		client:      p.client,
		instanceURL: server.Scheme + "://" + server.Host,
		sessionID:   result.SessionID,
		apiVersion:  p.APIVersion,
		timeout:     p.CallTimeout,
		maxPayload:  p.MaxPayload,
		limiter:     p.limiter(),
		log:         p.log.With(zap.String("username", creds.Username)),
	}, nil
}
