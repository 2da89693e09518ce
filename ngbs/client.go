// Package ngbs is a client for the NGBS enzoldhazam.hu heating portal.
//
// The portal has no API tokens. A session is obtained the way a browser does
// it: load the login page, keep its PHPSESSID cookie, and post the credentials
// together with the hidden CSRF token found in the login form. The Ax endpoints
// then answer with JSON for that session.
package ngbs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/botondbotos/ngbs-prometheus-adapter/config"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"
)

// SessionCookie is the cookie the portal keeps its session in.
const SessionCookie = "PHPSESSID"

// ErrAuth is returned when the portal does not grant a session.
var ErrAuth = errors.New("ngbs authentication failed")

// FetchError describes a failed portal request.
type FetchError struct {
	Op     string
	Serial string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Serial != "" {
		return fmt.Sprintf("ngbs %s (serial %s): %v", e.Op, e.Serial, e.Err)
	}
	return fmt.Sprintf("ngbs %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Client talks to the portal on behalf of one account.
// A Client owns its cookie jar and is meant to live for a single scrape.
type Client struct {
	baseURL    *url.URL
	account    config.Account
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a Client for the portal described by cfg.
func NewClient(cfg config.PortalConfig, account config.Account, logger *slog.Logger) (*Client, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal url %q: %w", cfg.BaseURL, err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("unable to create cookie jar: %w", err)
	}

	dialer := &net.Dialer{
		Timeout:   cfg.RequestTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.RequestTimeout,
	}

	return &Client{
		baseURL:   baseURL,
		account:   account,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
			Jar:       jar,
		},
		logger: logger.With(slog.String("portal", baseURL.Host)),
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return data, nil
}

// Login opens a portal session for the client's account.
func (c *Client) Login(ctx context.Context) error {
	loginURL := c.endpoint("", nil)
	page, err := c.do(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return &FetchError{Op: "login page", Err: err}
	}

	token, err := CSRFToken(bytes.NewReader(page))
	if err != nil {
		return &FetchError{Op: "login page", Err: fmt.Errorf("%w: %w", ErrAuth, err)}
	}
	if !c.hasSession() {
		return &FetchError{Op: "login page", Err: fmt.Errorf("%w: no %s cookie set", ErrAuth, SessionCookie)}
	}

	form := url.Values{
		"username": {c.account.Username},
		"password": {c.account.Password},
		"x-email":  {""},
		"token":    {token},
	}
	if _, err := c.do(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode())); err != nil {
		return &FetchError{Op: "login", Err: fmt.Errorf("%w: %w", ErrAuth, err)}
	}

	c.logger.Debug("portal session opened", slog.String("username", c.account.Username))
	return nil
}

func (c *Client) hasSession() bool {
	for _, cookie := range c.httpClient.Jar.Cookies(c.baseURL) {
		if cookie.Name == SessionCookie && cookie.Value != "" {
			return true
		}
	}
	return false
}

// CSRFToken returns the value of the hidden "token" input of the login form.
func CSRFToken(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("unable to parse login page: %w", err)
	}

	var find func(*html.Node) (string, bool)
	find = func(n *html.Node) (string, bool) {
		if n.Type == html.ElementNode && n.Data == "input" {
			attrs := map[string]string{}
			for _, a := range n.Attr {
				attrs[a.Key] = a.Val
			}
			if attrs["type"] == "hidden" && attrs["name"] == "token" {
				if value, ok := attrs["value"]; ok {
					return value, true
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if v, ok := find(child); ok {
				return v, true
			}
		}
		return "", false
	}

	token, ok := find(doc)
	if !ok {
		return "", errors.New("login form has no hidden token input")
	}
	return token, nil
}

// getJSON fetches an Ax endpoint. The portal serves its HTML login page
// instead of JSON when the session is not authenticated.
func (c *Client) getJSON(ctx context.Context, query url.Values) ([]byte, error) {
	data, err := c.do(ctx, http.MethodGet, c.endpoint("Ax", query), nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrAuth)
	}
	return data, nil
}

// ListSerials returns the serial numbers of all devices on the account in
// the order the portal lists them.
func (c *Client) ListSerials(ctx context.Context) ([]string, error) {
	data, err := c.getJSON(ctx, url.Values{"action": {"iconList"}})
	if err != nil {
		return nil, &FetchError{Op: "list devices", Err: err}
	}

	var list struct {
		Icons json.RawMessage `json:"ICONS"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, &FetchError{Op: "list devices", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	serials, err := serialsFrom(list.Icons)
	if err != nil {
		return nil, &FetchError{Op: "list devices", Err: err}
	}
	return serials, nil
}

// serialsFrom accepts ICONS either as an array of serials or as an object
// keyed by serial, keeping document order in both cases.
func serialsFrom(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.New("response has no ICONS")
	}

	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode ICONS: %w", err)
		}
		serials := make([]string, 0, len(items))
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				serials = append(serials, s)
				continue
			}
			var n json.Number
			if err := json.Unmarshal(item, &n); err != nil {
				return nil, fmt.Errorf("unexpected ICONS entry %s", item)
			}
			serials = append(serials, n.String())
		}
		return serials, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("unexpected ICONS value %s", raw)
	}
	var serials []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to decode ICONS: %w", err)
		}
		serials = append(serials, tok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, fmt.Errorf("failed to decode ICONS: %w", err)
		}
	}
	return serials, nil
}

// FetchDevice returns the raw iconByID document of one device.
func (c *Client) FetchDevice(ctx context.Context, serial string) (json.RawMessage, error) {
	data, err := c.getJSON(ctx, url.Values{"action": {"iconByID"}, "serial": {serial}})
	if err != nil {
		return nil, &FetchError{Op: "fetch device", Serial: serial, Err: err}
	}
	return json.RawMessage(data), nil
}

// FetchAllDevices logs in, enumerates the account's devices and fetches each
// of them in turn. Any failure aborts the whole fetch.
func (c *Client) FetchAllDevices(ctx context.Context) ([]json.RawMessage, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	serials, err := c.ListSerials(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("devices listed", slog.Int("count", len(serials)))

	docs := make([]json.RawMessage, 0, len(serials))
	for _, serial := range serials {
		doc, err := c.FetchDevice(ctx, serial)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
