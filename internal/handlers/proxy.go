package handlers

import (
	"bytes"
	"context"

	"github.com/gofiber/fiber/v2"

	"botwave-web/internal/upstream"
	u "botwave-web/internal/utils"
)

const (
	// VersionFallback is served when the latest version cannot be fetched.
	VersionFallback = "1.0.0"
	// UninstallFallback is served when the uninstall script cannot be fetched.
	UninstallFallback = `echo "error while fetching uninstall.sh, clone the repo and use it from there."`

	EndpointVersion   = "latestpro"
	EndpointUninstall = "uninstall"
)

// proxiedFile describes one upstream file and how it is served.
type proxiedFile struct {
	name      string
	url       string
	fallback  string
	transform func([]byte) []byte
}

// ProxyService serves the upstream-backed text endpoints.
type ProxyService struct {
	Config  *u.Config
	Fetcher upstream.Fetcher
	Stats   StatsRecorder
}

// NewProxyService creates a ProxyService. A nil fetcher is replaced by an
// HTTPFetcher built from cfg.Upstream; nil stats disables counting.
func NewProxyService(cfg u.Config, fetcher upstream.Fetcher, stats StatsRecorder) *ProxyService {
	if fetcher == nil {
		fetcher = upstream.NewHTTPFetcher(nil, cfg.Upstream.UserAgent, cfg.Upstream.Timeout)
	}
	if stats == nil {
		stats = NopStats{}
	}
	return &ProxyService{
		Config:  &cfg,
		Fetcher: fetcher,
		Stats:   stats,
	}
}

// HandleLatestVersion forwards the upstream version file verbatim.
func (svc *ProxyService) HandleLatestVersion(c *fiber.Ctx) error {
	return svc.serve(c, proxiedFile{
		name:     EndpointVersion,
		url:      svc.Config.Upstream.VersionURL,
		fallback: VersionFallback,
	})
}

// HandleUninstallScript forwards the upstream uninstall script with its line
// endings normalized to \n.
func (svc *ProxyService) HandleUninstallScript(c *fiber.Ctx) error {
	return svc.serve(c, proxiedFile{
		name:      EndpointUninstall,
		url:       svc.Config.Upstream.UninstallURL,
		fallback:  UninstallFallback,
		transform: NormalizeLineEndings,
	})
}

// serve never returns an upstream error to the app error handler; a failed
// fetch always produces the fallback payload with 500.
func (svc *ProxyService) serve(c *fiber.Ctx, f proxiedFile) error {
	ctx, cancel := context.WithTimeout(c.Context(), svc.Config.Upstream.Timeout)
	defer cancel()

	body, err := svc.Fetcher.Fetch(ctx, f.url)
	if err != nil {
		u.Warn("Upstream fetch failed, serving fallback",
			"endpoint", f.name, "url", f.url, "error", err, "request_id", c.GetRespHeader(fiber.HeaderXRequestID))
		svc.Stats.Record(c.Context(), f.name, OutcomeFallback)
		return c.Status(fiber.StatusInternalServerError).SendString(f.fallback)
	}

	if f.transform != nil {
		body = f.transform(body)
	}

	u.Debug("Upstream served", "endpoint", f.name, "bytes", len(body))
	svc.Stats.Record(c.Context(), f.name, OutcomeServed)

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlain)
	return c.Status(fiber.StatusOK).Send(body)
}

// NormalizeLineEndings turns CRLF and lone CR into LF. CRLF is replaced first
// so it yields a single LF.
func NormalizeLineEndings(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
}
