package renderer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/HolbyKate/cooptme/internal/extractor"
	"github.com/HolbyKate/cooptme/internal/script"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// StaticConfig holds configuration for the static renderer.
type StaticConfig struct {
	UserAgent       string
	Timeout         time.Duration
	MaxResponseSize int           // bytes; 0 keeps colly's default
	Proxy           string        // http or socks5 URL
	CustomHeaders   []string      // "Key: Value"
	RateLimit       time.Duration // delay between requests to one domain
	Parallelism     int
}

// loginWallError is posted instead of a page state when a static fetch lands
// on a login page: nothing can sign the fetch in afterwards.
const loginWallError = "page requires a signed-in session"

// StaticRenderer fetches pages with Colly and runs the script contract in
// Go against the static HTML. Scripts are dispatched on their Name; the
// JavaScript source is never executed.
type StaticRenderer struct {
	collector *colly.Collector
	headers   http.Header
	registry  *extractor.Registry
}

// NewStaticRenderer creates a Colly-based renderer.
func NewStaticRenderer(cfg StaticConfig) (*StaticRenderer, error) {
	c := colly.NewCollector(colly.Async(false))
	// Rescanning a profile is the normal case.
	c.AllowURLRevisit = true

	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.RateLimit > 0 {
		parallelism := cfg.Parallelism
		if parallelism <= 0 {
			parallelism = 1
		}
		_ = c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: parallelism,
			Delay:       cfg.RateLimit,
		})
	}
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}
	if cfg.Proxy != "" {
		if err := c.SetProxy(cfg.Proxy); err != nil {
			return nil, fmt.Errorf("proxy %q: %w", cfg.Proxy, err)
		}
	}
	if cfg.MaxResponseSize > 0 {
		c.MaxBodySize = cfg.MaxResponseSize
	}

	headers := make(http.Header)
	for _, h := range cfg.CustomHeaders {
		key, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("header %q: want \"Key: Value\"", h)
		}
		headers.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	return &StaticRenderer{collector: c, headers: headers, registry: extractor.NewRegistry()}, nil
}

// Registry exposes the extractor chain so callers can register their own.
func (r *StaticRenderer) Registry() *extractor.Registry { return r.registry }

func (r *StaticRenderer) Name() string { return "static" }

// Open fetches url and runs onLoad against the response.
func (r *StaticRenderer) Open(ctx context.Context, url string, onLoad plugin.Script) (plugin.Page, error) {
	data, err := r.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	p := &staticPage{data: data, registry: r.registry, box: newMailbox(8)}
	if onLoad.Name != "" {
		if err := p.Inject(ctx, onLoad); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// fetch clones the collector so every page gets clean callbacks. Clone
// drops callbacks, so headers are attached to each clone.
func (r *StaticRenderer) fetch(ctx context.Context, url string) (*plugin.PageData, error) {
	c := r.collector.Clone()
	c.Context = ctx

	if len(r.headers) > 0 {
		c.OnRequest(func(req *colly.Request) {
			for key, values := range r.headers {
				for _, v := range values {
					req.Headers.Add(key, v)
				}
			}
		})
	}

	data := &plugin.PageData{URL: url, FinalURL: url}
	var fetchErr error

	c.OnResponse(func(resp *colly.Response) {
		data.StatusCode = resp.StatusCode
		data.HTML = string(resp.Body)
		data.FinalURL = resp.Request.URL.String()
	})

	c.OnError(func(resp *colly.Response, err error) {
		fetchErr = err
		if resp != nil && resp.StatusCode != 0 {
			fetchErr = fmt.Errorf("%s: status %d", err, resp.StatusCode)
		}
	})

	if err := c.Visit(url); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	if data.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, data.StatusCode)
	}
	return data, nil
}

func (r *StaticRenderer) Close() error { return nil }

type staticPage struct {
	data      *plugin.PageData
	registry  *extractor.Registry
	box       *mailbox
	closeOnce sync.Once
}

func (p *staticPage) Messages() <-chan string { return p.box.messages }

func (p *staticPage) Location() string { return p.data.FinalURL }

type pageStateMessage struct {
	Type     string `json:"type"`
	LoggedIn bool   `json:"loggedIn"`
}

type profileMessage struct {
	Type    string                      `json:"type"`
	Profile plugin.RawExtractionPayload `json:"profile"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Inject runs the Go rendition of script and posts its message.
func (p *staticPage) Inject(ctx context.Context, s plugin.Script) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg interface{}
	switch s.Name {
	case script.NamePageState:
		// A static fetch carries no session: a readable page is as good as
		// a logged-in one, and a login wall never goes away.
		if extractor.IsLoginWall(p.data) {
			msg = errorMessage{Type: script.TypeExtractionError, Error: loginWallError}
		} else {
			msg = pageStateMessage{Type: script.TypePageState, LoggedIn: true}
		}
	case script.NameExtractProfile:
		raw, err := p.registry.ExtractProfile(p.data)
		if err != nil {
			msg = errorMessage{Type: script.TypeExtractionError, Error: err.Error()}
		} else {
			msg = profileMessage{Type: script.TypeProfileData, Profile: raw}
		}
	default:
		return fmt.Errorf("static renderer cannot run script %q", s.Name)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.box.post(string(body))
	return nil
}

func (p *staticPage) Close() error {
	p.closeOnce.Do(p.box.close)
	return nil
}
