package renderer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// bindingName is the host function the page-side shim forwards to.
const bindingName = "__cooptmePostMessage"

// bridgeJS gives every document the window.ReactNativeWebView.postMessage
// entry point the injected scripts post through.
const bridgeJS = `window.ReactNativeWebView = {
  postMessage: function (msg) { window.` + bindingName + `(String(msg)); }
};`

// BrowserConfig holds configuration for the browser renderer.
type BrowserConfig struct {
	Headless    bool
	UserAgent   string
	PageTimeout time.Duration // wait for the load event
	Bin         string        // Chrome binary; empty downloads or finds one
	ControlURL  string        // attach to a running browser instead of launching
}

// BrowserRenderer uses Rod (headless Chrome) to render pages with
// JavaScript, the way a mobile WebView would.
type BrowserRenderer struct {
	browser     *rod.Browser
	userAgent   string
	pageTimeout time.Duration
}

// NewBrowserRenderer launches (or attaches to) Chrome.
func NewBrowserRenderer(cfg BrowserConfig) (*BrowserRenderer, error) {
	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().
			Headless(cfg.Headless).
			Set("no-sandbox").
			Set("disable-gpu").
			Set("disable-dev-shm-usage")
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	pageTimeout := cfg.PageTimeout
	if pageTimeout == 0 {
		pageTimeout = 15 * time.Second
	}

	return &BrowserRenderer{
		browser:     browser,
		userAgent:   cfg.UserAgent,
		pageTimeout: pageTimeout,
	}, nil
}

func (r *BrowserRenderer) Name() string { return "browser" }

// Open creates a tab, wires the message bridge before any page script
// runs, navigates to url and runs onLoad once the load event fired.
func (r *BrowserRenderer) Open(ctx context.Context, url string, onLoad plugin.Script) (plugin.Page, error) {
	rodPage, err := r.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	p := &browserPage{page: rodPage, box: newMailbox(32)}

	if r.userAgent != "" {
		if err := rodPage.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.userAgent}); err != nil {
			p.Close()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}

	stop, err := rodPage.Expose(bindingName, func(v gson.JSON) (interface{}, error) {
		if s, ok := v.Val().(string); ok {
			p.box.post(s)
		} else {
			p.box.post(v.JSON("", ""))
		}
		return nil, nil
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("expose binding: %w", err)
	}
	p.stopBinding = stop

	if _, err := rodPage.EvalOnNewDocument(bridgeJS); err != nil {
		p.Close()
		return nil, fmt.Errorf("install bridge: %w", err)
	}

	if err := rodPage.Context(ctx).Navigate(url); err != nil {
		p.Close()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := rodPage.Context(ctx).Timeout(r.pageTimeout).WaitLoad(); err != nil {
		p.Close()
		return nil, fmt.Errorf("wait load %s: %w", url, err)
	}

	if onLoad.Source != "" {
		if err := p.Inject(ctx, onLoad); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

func (r *BrowserRenderer) Close() error {
	if r.browser != nil {
		return r.browser.Close()
	}
	return nil
}

type browserPage struct {
	page        *rod.Page
	box         *mailbox
	stopBinding func() error
	closeOnce   sync.Once
}

func (p *browserPage) Messages() <-chan string { return p.box.messages }

func (p *browserPage) Location() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Inject evaluates the script in the page's main frame.
func (p *browserPage) Inject(ctx context.Context, script plugin.Script) error {
	if _, err := p.page.Context(ctx).Eval(script.Source); err != nil {
		return fmt.Errorf("inject %s: %w", script.Name, err)
	}
	return nil
}

func (p *browserPage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.box.close()
		if p.stopBinding != nil {
			_ = p.stopBinding()
		}
		err = p.page.Close()
	})
	return err
}
