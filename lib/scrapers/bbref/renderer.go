package bbref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"nbagames/lib/htmlutil"
	"nbagames/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// ErrRenderTimeout is returned by a Renderer when the page did not finish
// loading in time.
var ErrRenderTimeout = errors.New("render timed out")

// StatusError is a non-2xx response from the source.
type StatusError struct {
	Url  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.Url, e.Code)
}

// Renderer turns a url into a fully rendered document.
type Renderer interface {
	Render(ctx context.Context, url string) (*goquery.Document, error)
}

type HTTPRendererOptions struct {
	Timeout   time.Duration
	UserAgent string
	// routes requests through a transport that mimics a browser's
	// TLS handshake and headers.
	CloudflareBypass bool
}

// HTTPRenderer fetches pages over a single reused http session. the
// source ships some tables inside html comments and reveals them with
// javascript, those are uncommented to match what a browser would show.
type HTTPRenderer struct {
	Http *resty.Client
}

func NewHTTPRenderer(opts HTTPRendererOptions) *HTTPRenderer {
	client := resty.New()
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	}
	client.SetHeader("user-agent", userAgent)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)

	return &HTTPRenderer{Http: client}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (r *HTTPRenderer) Render(ctx context.Context, url string) (*goquery.Document, error) {
	res, err := r.Http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			return nil, fmt.Errorf("%w: %s", ErrRenderTimeout, err.Error())
		}
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		return nil, &StatusError{Url: url, Code: res.StatusCode()}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, err
	}
	htmlutil.Uncomment(doc.Selection)
	return doc, nil
}
