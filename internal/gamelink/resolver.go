// internal/gamelink/resolver.go

// Package gamelink turns an arbitrary pasted Roblox URL or share link into a
// canonical game identifier. Parsing is pure; only shortlink redirects and
// share-link pages require the network.
package gamelink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"squadlink/internal/apperr"
)

// Matched formats, in order of attempt.
const (
	FormatWebGames          = "web_games"
	FormatWebStart          = "web_start"
	FormatDeepLink          = "deep_link"
	FormatShortlinkEmbedded = "shortlink_embedded"
	FormatShortlinkRedirect = "shortlink_redirect"
	FormatShareLink         = "share_link"
)

// Result is the outcome of a successful normalization. Two different inputs
// can resolve to the same GameRef (and the same input can arrive via several
// formats), so callers must never cache results keyed on raw input alone.
type Result struct {
	GameRef       string   `json:"game_ref"`
	CanonicalURLs []string `json:"canonical_urls"`
	MatchedFormat string   `json:"matched_format"`
}

// maxHops bounds shortlink/share-link recursion so a redirect loop cannot
// spin the resolver forever.
const maxHops = 4

var (
	gamesPathRe = regexp.MustCompile(`^/games/(\d+)(?:/|$)`)
	placeIDRe   = regexp.MustCompile(`(?i)placeid=(\d+)`)
	ogURLRe     = regexp.MustCompile(`<meta[^>]+(?:property|name)="og:url"[^>]+content="([^"]+)"`)
)

// Resolver normalizes game links. It is stateless and safe for concurrent use.
type Resolver struct {
	client  *http.Client
	retries int

	webHosts   map[string]bool
	shortHosts map[string]bool
}

// New builds a Resolver whose network steps (redirect follow, share-page
// fetch) are bounded by timeout and retried at most retries times.
func New(timeout time.Duration, retries int) *Resolver {
	return &Resolver{
		client: &http.Client{
			Timeout: timeout,
			// Redirects are followed manually so the Location target can be
			// re-classified instead of blindly fetched.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		retries: retries,
		webHosts: map[string]bool{
			"roblox.com":     true,
			"www.roblox.com": true,
			"web.roblox.com": true,
		},
		shortHosts: map[string]bool{
			"ro.blox.com": true,
		},
	}
}

// Normalize resolves input to a canonical game identifier. It returns a
// validation error when input is not a recognizable link (or is recognized
// but carries no identifier), and an upstream error when a required network
// step fails.
func (r *Resolver) Normalize(ctx context.Context, input string) (*Result, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, apperr.Validation("invalid_game_link", "empty game link")
	}
	return r.normalize(ctx, trimmed, 0)
}

func (r *Resolver) normalize(ctx context.Context, raw string, hop int) (*Result, error) {
	if hop >= maxHops {
		return nil, apperr.Validation("invalid_game_link", "game link resolution exceeded %d hops", maxHops)
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return nil, apperr.Validation("invalid_game_link", "not a recognizable game link")
	}

	host := strings.ToLower(u.Hostname())
	path := strings.TrimRight(u.Path, "/")

	switch {
	case u.Scheme == "roblox":
		return r.fromDeepLink(u, raw)

	case r.webHosts[host] && strings.EqualFold(path, "/games/start"):
		return r.fromStartURL(u)

	case r.webHosts[host] && strings.HasPrefix(path, "/games/"):
		return r.fromGamesURL(path)

	case r.webHosts[host] && strings.EqualFold(path, "/share"):
		return r.fromShareLink(ctx, u, hop)

	case r.shortHosts[u.Host] || r.shortHosts[host]:
		if target := embeddedTarget(u); target != "" {
			res, err := r.normalize(ctx, target, hop+1)
			if err != nil {
				return nil, err
			}
			res.MatchedFormat = FormatShortlinkEmbedded
			return res, nil
		}
		return r.fromShortlink(ctx, u, hop)
	}

	return nil, apperr.Validation("invalid_game_link", "not a recognizable game link")
}

func (r *Resolver) fromGamesURL(path string) (*Result, error) {
	m := gamesPathRe.FindStringSubmatch(path + "/")
	if m == nil {
		return nil, apperr.Validation("invalid_game_link", "game link carries no game id")
	}
	return canonical(m[1], FormatWebGames), nil
}

func (r *Resolver) fromStartURL(u *url.URL) (*Result, error) {
	id := queryPlaceID(u)
	if id == "" {
		return nil, apperr.Validation("invalid_game_link", "start link carries no placeId")
	}
	return canonical(id, FormatWebStart), nil
}

func (r *Resolver) fromDeepLink(u *url.URL, raw string) (*Result, error) {
	if id := queryPlaceID(u); id != "" {
		return canonical(id, FormatDeepLink), nil
	}
	// Legacy roblox://placeId=N form: the assignment lands in the host/opaque
	// part, so fall back to a scan of the raw string.
	if m := placeIDRe.FindStringSubmatch(raw); m != nil {
		return canonical(m[1], FormatDeepLink), nil
	}
	return nil, apperr.Validation("invalid_game_link", "deep link carries no placeId")
}

// fromShortlink follows a bare shortlink's redirect without a body fetch and
// re-runs normalization on the Location target.
func (r *Resolver) fromShortlink(ctx context.Context, u *url.URL, hop int) (*Result, error) {
	resp, err := r.do(ctx, http.MethodHead, u.String())
	if err != nil {
		return nil, apperr.Upstream("link_resolution_failed", err)
	}
	defer resp.Body.Close()

	loc := resp.Header.Get("Location")
	if resp.StatusCode < 300 || resp.StatusCode >= 400 || loc == "" {
		return nil, apperr.Upstream("link_resolution_failed",
			fmt.Errorf("shortlink did not redirect (status %d)", resp.StatusCode))
	}
	res, err := r.normalize(ctx, loc, hop+1)
	if err != nil {
		return nil, err
	}
	res.MatchedFormat = FormatShortlinkRedirect
	return res, nil
}

// fromShareLink fetches the share page and extracts the canonical game URL
// from its og:url metadata tag.
func (r *Resolver) fromShareLink(ctx context.Context, u *url.URL, hop int) (*Result, error) {
	resp, err := r.do(ctx, http.MethodGet, u.String())
	if err != nil {
		return nil, apperr.Upstream("link_resolution_failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Upstream("link_resolution_failed",
			fmt.Errorf("share page fetch returned status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Upstream("link_resolution_failed", err)
	}
	m := ogURLRe.FindSubmatch(body)
	if m == nil {
		return nil, apperr.Validation("invalid_game_link", "share page carries no game reference")
	}
	res, err := r.normalize(ctx, string(m[1]), hop+1)
	if err != nil {
		return nil, err
	}
	res.MatchedFormat = FormatShareLink
	return res, nil
}

// do issues one HTTP request, retrying transport-level failures a small fixed
// number of times. HTTP error statuses are not retried.
func (r *Resolver) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// embeddedTarget scans a shortlink's query parameters for a value that is
// itself a fully-qualified URL (AppsFlyer-style af_dp / af_web_dl params).
func embeddedTarget(u *url.URL) string {
	for _, vals := range u.Query() {
		for _, v := range vals {
			if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "roblox://") {
				return v
			}
		}
	}
	return ""
}

func queryPlaceID(u *url.URL) string {
	for key, vals := range u.Query() {
		if strings.EqualFold(key, "placeId") && len(vals) > 0 && vals[0] != "" {
			if m := placeIDRe.FindStringSubmatch("placeid=" + vals[0]); m != nil {
				return m[1]
			}
		}
	}
	return ""
}

func canonical(gameRef, format string) *Result {
	return &Result{
		GameRef: gameRef,
		CanonicalURLs: []string{
			"https://www.roblox.com/games/" + gameRef,
			"roblox://experiences/start?placeId=" + gameRef,
		},
		MatchedFormat: format,
	}
}
