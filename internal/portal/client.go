package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"portalsync/internal/components/assert"
	"portalsync/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	report_client_get       = "client.get"
	report_client_post_form = "client.post-form"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type Config struct {
	BaseUrl        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	// RequestsPerSecond limits the request rate, zero means 2.
	RequestsPerSecond float64 `json:"requests_per_second"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`
	// DumpDir, when set, receives a dump of every exchange for debugging.
	DumpDir string `json:"dump_dir"`
}

// Response is the raw result of a form submission.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
	// Url is the url the response was served from.
	Url *url.URL
}

// Client talks to the portal. Every request shares one cookie jar so the
// session established at login is presented on later requests.
type Client struct {
	BaseUrl *url.URL
	// Http follows redirects within the portal's domain.
	Http *resty.Client
	// noRedirect is used for form submissions whose redirect carries the
	// session token.
	noRedirect *resty.Client

	jar *resettableJar

	tel telemetry.API
}

func NewClient(config Config, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("portal", tel)

	if config.BaseUrl == "" {
		return nil, fmt.Errorf("portal: base url is not configured")
	}
	parsedBaseUrl, err := url.Parse(config.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("portal: parse base url: %w", err)
	}

	timeout := time.Second * 30
	if config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	// max burst >= rps just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(rate.Limit(rps), int(rps)+1)

	var output telemetry.DumpOutput
	if config.DumpDir != "" {
		fsOutput, err := telemetry.NewFilesystemOutput(config.DumpDir, tel)
		if err != nil {
			return nil, err
		}
		output = fsOutput
	}

	jar, err := newJar()
	if err != nil {
		return nil, err
	}

	newHttp := func() *resty.Client {
		httpClient := resty.New()
		httpClient.SetBaseURL(strings.TrimSuffix(config.BaseUrl, "/"))
		httpClient.SetCookieJar(jar)
		if config.CloudflareBypass {
			httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
		}
		httpClient.SetHeader("user-agent", userAgent)
		httpClient.SetTimeout(timeout)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
		telemetry.InstrumentResty(httpClient, tel, output, RedactUrl)
		return httpClient
	}

	httpClient := newHttp()
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsedBaseUrl.Hostname()))

	noRedirect := newHttp()
	noRedirect.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))

	return &Client{
		BaseUrl:    parsedBaseUrl,
		Http:       httpClient,
		noRedirect: noRedirect,
		jar:        jar,
		tel:        tel,
	}, nil
}

// resettableJar lets a logout drop every cookie while requests using the
// jar may still be in flight.
type resettableJar struct {
	mutex sync.RWMutex
	inner *cookiejar.Jar
}

func newJar() (*resettableJar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &resettableJar{inner: inner}, nil
}

func (j *resettableJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	j.inner.SetCookies(u, cookies)
}

func (j *resettableJar) Cookies(u *url.URL) []*http.Cookie {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	return j.inner.Cookies(u)
}

func (j *resettableJar) Reset() error {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return err
	}
	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.inner = inner
	return nil
}

// Get requests `path` with `query`, `cookie` is sent in addition to the
// cookies of the jar when it is not nil. The body is returned for 2xx
// responses, every other outcome is a *NetworkError, a *HttpError or
// ErrLoginRedirect.
func (c *Client) Get(ctx context.Context, path string, query url.Values, cookie *http.Cookie) (string, error) {
	req := c.Http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query)
	if cookie != nil {
		req.SetCookie(cookie)
	}

	requestUrl := c.resolve(path, RedactedQuery(query))
	res, err := req.Get(path)
	if err != nil {
		c.tel.ReportWarning(report_client_get, err, requestUrl)
		return "", &NetworkError{Url: requestUrl, Err: err}
	}

	requested := &url.URL{Path: path, RawQuery: query.Encode()}
	if IsLoginURL(finalUrl(res)) && !IsLoginURL(requested) {
		c.tel.ReportDebug("get: redirected to login page", requestUrl)
		return "", ErrLoginRedirect
	}

	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		err := &HttpError{
			StatusCode: res.StatusCode(),
			Status:     res.Status(),
			Url:        requestUrl,
		}
		c.tel.ReportWarning(report_client_get, err)
		return "", err
	}

	return res.String(), nil
}

// PostForm submits `form` to `path` without following redirects so the
// caller can read the Location or REFRESH header.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (Response, error) {
	requestUrl := c.resolve(path, nil)
	res, err := c.noRedirect.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		Post(path)
	if err != nil {
		c.tel.ReportWarning(report_client_post_form, err, requestUrl)
		return Response{}, &NetworkError{Url: requestUrl, Err: err}
	}

	if res.StatusCode() >= 400 {
		err := &HttpError{
			StatusCode: res.StatusCode(),
			Status:     res.Status(),
			Url:        requestUrl,
		}
		c.tel.ReportWarning(report_client_post_form, err)
		return Response{}, err
	}

	return Response{
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.String(),
		Url:        finalUrl(res),
	}, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := c.BaseUrl.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func finalUrl(res *resty.Response) *url.URL {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL
	}
	parsed, _ := url.Parse(res.Request.URL)
	return parsed
}

func (c *Client) cookieUrl() *url.URL {
	return c.BaseUrl.ResolveReference(&url.URL{Path: ScriptPath})
}

// Cookie returns the cookie named `name` the jar would send to the portal.
func (c *Client) Cookie(name string) *http.Cookie {
	for _, cookie := range c.jar.Cookies(c.cookieUrl()) {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

// SetCookie stores `cookie` in the jar for the base url, used to restore a
// persisted session.
func (c *Client) SetCookie(cookie *http.Cookie) {
	restored := *cookie
	if restored.Path == "" {
		restored.Path = "/"
	}
	c.jar.SetCookies(c.cookieUrl(), []*http.Cookie{&restored})
}

// ClearCookies drops every cookie of the session.
func (c *Client) ClearCookies() error {
	return c.jar.Reset()
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
