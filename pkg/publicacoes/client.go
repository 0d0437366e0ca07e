// Package publicacoes is a client for the legal-publication SOAP webservice:
// searching publications for a group and date range, and marking them as
// exported so later searches skip them.
package publicacoes

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/publicacoes-cli/internal/model"
	"github.com/sells-group/publicacoes-cli/internal/resilience"
)

// MaxMarkCodes is the most codes the webservice accepts per marking call.
const MaxMarkCodes = 3000

// DefaultMaxResponseBytes caps how much of a response body is read.
const DefaultMaxResponseBytes int64 = 64 << 20

// Client defines the webservice operations.
type Client interface {
	// Search returns the publications matching params.
	Search(ctx context.Context, params model.SearchParams) ([]model.RawPublication, error)
	// MarkExported flags codes as exported upstream. Inputs larger than the
	// per-call cap are split; the result is true only if every call was
	// accepted.
	MarkExported(ctx context.Context, codes []int64) (bool, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithCredentials sets the relational name and token sent with every call.
func WithCredentials(user, token string) Option {
	return func(c *httpClient) {
		c.user = user
		c.token = token
	}
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

// WithMaxMarkCodes lowers the per-call marking cap.
func WithMaxMarkCodes(n int) Option {
	return func(c *httpClient) {
		if n > 0 && n <= MaxMarkCodes {
			c.maxMarkCodes = n
		}
	}
}

// WithMaxResponseBytes caps the response body size. Larger responses fail
// instead of being buffered.
func WithMaxResponseBytes(n int64) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

type httpClient struct {
	baseURL      string
	user         string
	token        string
	http         *http.Client
	limiter      *rate.Limiter
	retry        resilience.RetryConfig
	maxMarkCodes int
	maxBody      int64
}

// NewClient creates a webservice client for the endpoint at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:      rate.NewLimiter(2, 1),
		retry:        resilience.DefaultRetryConfig(),
		maxMarkCodes: MaxMarkCodes,
		maxBody:      DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, params model.SearchParams) ([]model.RawPublication, error) {
	req := searchRequest{
		User:          c.user,
		Token:         c.token,
		GroupCode:     params.GroupCode,
		DateFrom:      sourceDate(params.DateFrom),
		DateTo:        sourceDate(params.DateTo),
		ProcessNumber: params.ProcessNumber,
	}
	body, err := c.call(ctx, "getPublicacoes", req)
	if err != nil {
		return nil, eris.Wrap(err, "publicacoes: search")
	}

	var out []model.RawPublication
	err = walkBody(bytes.NewReader(body), "publicacao", func(d *xml.Decoder, se *xml.StartElement) error {
		var p publicacaoXML
		if err := d.DecodeElement(&p, se); err != nil {
			return eris.Wrap(err, "publicacoes: decode publicacao")
		}
		out = append(out, model.RawPublication{
			SourceCode:      p.Code,
			ProcessNumber:   strings.TrimSpace(p.ProcessNumber),
			PublicationDate: strings.TrimSpace(p.Date),
			Text:            p.text(),
			Court:           strings.TrimSpace(p.Diario),
			Instance:        strings.TrimSpace(p.Instancia),
			Channel:         strings.TrimSpace(p.Caderno),
			Extra:           p.extra(),
		})
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "publicacoes: search")
	}

	zap.L().Debug("publicacoes: search complete",
		zap.String("group_code", params.GroupCode),
		zap.Int("count", len(out)),
	)
	return out, nil
}

func (c *httpClient) MarkExported(ctx context.Context, codes []int64) (bool, error) {
	if len(codes) == 0 {
		return true, nil
	}
	accepted := true
	for start := 0; start < len(codes); start += c.maxMarkCodes {
		chunk := codes[start:min(start+c.maxMarkCodes, len(codes))]
		ok, err := c.markChunk(ctx, chunk)
		if err != nil {
			return false, err
		}
		accepted = accepted && ok
	}
	return accepted, nil
}

func (c *httpClient) markChunk(ctx context.Context, codes []int64) (bool, error) {
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = strconv.FormatInt(code, 10)
	}
	body, err := c.call(ctx, "setPublicacoesExportadas", markRequest{
		User:  c.user,
		Token: c.token,
		Codes: strings.Join(parts, ","),
	})
	if err != nil {
		return false, eris.Wrap(err, "publicacoes: mark exported")
	}

	var result string
	found := false
	err = walkBody(bytes.NewReader(body), "return", func(d *xml.Decoder, se *xml.StartElement) error {
		found = true
		return eris.Wrap(d.DecodeElement(&result, se), "publicacoes: decode return")
	})
	if err != nil {
		return false, eris.Wrap(err, "publicacoes: mark exported")
	}
	if !found {
		return false, eris.New("publicacoes: mark exported: response has no return element")
	}
	ok, err := strconv.ParseBool(strings.TrimSpace(result))
	if err != nil {
		return false, eris.Wrapf(err, "publicacoes: mark exported: unexpected return %q", result)
	}
	return ok, nil
}

// call posts a SOAP envelope and returns the raw response body. 408, 429
// and 5xx responses without a SOAP fault are retried.
func (c *httpClient) call(ctx context.Context, action string, content any) ([]byte, error) {
	payload, err := xml.Marshal(newEnvelope(content))
	if err != nil {
		return nil, eris.Wrap(err, "marshal envelope")
	}
	payload = append([]byte(xml.Header), payload...)

	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("publicacoes", action)
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "rate limit wait")
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("Content-Type", contentXML)
		req.Header.Set("SOAPAction", serviceNS+action)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "post "+action)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
		if err != nil {
			return nil, eris.Wrap(err, "read response body")
		}
		if int64(len(body)) > c.maxBody {
			return nil, eris.Errorf("%s: response exceeds %d bytes", action, c.maxBody)
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}
		// SOAP 1.1 reports faults with 500; those are answers, not outages.
		if bytes.Contains(body, []byte("Fault>")) {
			return body, nil
		}
		statusErr := eris.Errorf("%s: unexpected status %d", action, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	})
}

// sourceDate converts ISO dates to the dd/mm/yyyy layout the service expects.
func sourceDate(s string) string {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("02/01/2006")
	}
	return s
}
