// Package fetch 负责渲染公告详情页并取回完整 HTML。
//
// 交易平台的公告正文由前端脚本填充，直接请求拿不到内容，
// 这里用无头浏览器渲染后读取页面。
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/AtomNotShy/tbbid-scrapy/internal/config"
	"github.com/AtomNotShy/tbbid-scrapy/internal/pkg/metrics"
)

// Renderer 维护一个常驻浏览器实例，按需渲染公告页面。
type Renderer struct {
	browser      *rod.Browser
	logger       *slog.Logger
	pageTimeout  time.Duration
	waitAfterNav time.Duration
}

// NewRenderer 启动浏览器并返回渲染器。
func NewRenderer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Renderer, error) {
	browser, err := startBrowser(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Renderer{
		browser:      browser,
		logger:       logger,
		pageTimeout:  cfg.Browser.PageTimeout,
		waitAfterNav: cfg.Browser.WaitAfterNav,
	}, nil
}

// Fetch 渲染指定 URL 并返回页面 HTML。
func (r *Renderer) Fetch(ctx context.Context, pageURL string) (string, error) {
	start := time.Now()
	html, err := r.fetch(ctx, pageURL)
	if err != nil {
		metrics.NoticeFetchTotal.WithLabelValues("error").Inc()
		return "", err
	}

	metrics.NoticeFetchTotal.WithLabelValues("ok").Inc()
	r.logger.Debug("notice rendered",
		slog.String("url", pageURL),
		slog.Int("html_len", len(html)),
		slog.Duration("elapsed", time.Since(start)))
	return html, nil
}

func (r *Renderer) fetch(ctx context.Context, pageURL string) (string, error) {
	page, err := r.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			r.logger.Warn("close page failed", slog.String("error", closeErr.Error()))
		}
	}()

	page = page.Context(ctx).Timeout(r.pageTimeout)

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return "", fmt.Errorf("apply stealth script: %w", err)
	}

	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}

	// 留给前端脚本填充正文的时间
	if r.waitAfterNav > 0 {
		timer := time.NewTimer(r.waitAfterNav)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Close 关闭浏览器。
func (r *Renderer) Close() error {
	if r.browser == nil {
		return nil
	}
	return r.browser.Close()
}

// startBrowser 根据配置启动浏览器，针对容器环境做了适配。
func startBrowser(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*rod.Browser, error) {
	bin := cfg.Browser.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Headless(cfg.Browser.Headless).
		Bin(bin).
		NoSandbox(true).
		// 禁用 /dev/shm，防止容器内内存崩溃
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("remote-allow-origins", "*").
		Set("disk-cache-size", "1").
		Set("media-cache-size", "1").
		Set("disable-application-cache", "true").
		Set("js-flags", "--max_old_space_size=512")

	if cfg.Browser.ProxyURL != "" {
		parsed, err := url.Parse(cfg.Browser.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %s", cfg.Browser.ProxyURL)
		}
		l = l.Proxy(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host))
		logger.Info("using http proxy", slog.String("server", parsed.Host))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	logger.Info("browser started", slog.String("bin", bin))
	return browser, nil
}
