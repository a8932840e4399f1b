package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/chriscow/voiceturn/pkg/ai"
)

// errRejected marks a response the origin answered with a non-2xx status.
var errRejected = errors.New("origin rejected request")

// source is an opened payload.
type source struct {
	body        io.ReadCloser
	contentType string
	url         string
}

// open fetches rawURL, retrying once against the alternate origin when the
// primary fails at the transport level or answers non-2xx. The returned
// error wraps ai.ErrTransientNetwork.
func (p *Player) open(ctx context.Context, rawURL string) (*source, error) {
	src, err := p.get(ctx, rawURL)
	if err == nil {
		return src, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	alt, altErr := alternateURL(rawURL, p.cfg.AlternateOrigin)
	if altErr != nil || alt == rawURL {
		return nil, ai.TransientNetwork("fetch", err)
	}

	p.logger.Warn("Primary origin failed, trying alternate",
		slog.String("url", rawURL),
		slog.String("alternate", alt),
		slog.String("error", err.Error()))

	src, fbErr := p.get(ctx, alt)
	if fbErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ai.TransientNetwork("fetch", errors.Join(err, fbErr))
	}
	return src, nil
}

func (p *Player) get(ctx context.Context, rawURL string) (*source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg, audio/ogg, audio/wav;q=0.9, */*;q=0.5")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain a little so the connection can be reused
		io.CopyN(io.Discard, resp.Body, 4<<10)
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %w: %s", rawURL, errRejected, resp.Status)
	}
	return &source{
		body:        resp.Body,
		contentType: resp.Header.Get("Content-Type"),
		url:         rawURL,
	}, nil
}

// alternateURL moves rawURL to origin, keeping path and query.
func alternateURL(rawURL, origin string) (string, error) {
	if origin == "" {
		return "", errors.New("no alternate origin configured")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	o, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	u.Scheme = o.Scheme
	u.Host = o.Host
	return u.String(), nil
}

// chunkReader caps every Read at size bytes, bounding how much of the body
// is pulled from the network ahead of the decoder.
type chunkReader struct {
	r    io.Reader
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}
	return c.r.Read(p)
}
