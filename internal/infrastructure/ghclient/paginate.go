package ghclient

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tomnomnom/linkheader"

	"ghchrono/internal/errs"
)

const (
	GapEmptyPageWithNext = "empty page with next link"
	GapNonSequentialPage = "non-sequential page"
)

// Gap is a pagination anomaly. Gaps are advisory and never stop iteration.
type Gap struct {
	Resource     string
	URL          string
	Page         *int
	ExpectedPage *int
	Detail       string
}

// Validators are the conditional-request values cached for a resource.
type Validators struct {
	ETag         string
	LastModified string
}

func ValidatorsOf(resp *Response) Validators {
	if resp == nil {
		return Validators{}
	}
	return Validators{ETag: resp.Header.Get("ETag"), LastModified: resp.Header.Get("Last-Modified")}
}

type PageRequest struct {
	Resource string
	Path     string
	Params   url.Values
	Headers  http.Header
	// MaxPages stops iteration after that many pages; zero means unbounded.
	MaxPages   int
	OnGap      func(Gap)
	OnResponse func(*Response)
}

// Paginate streams the items of a list endpoint, following Link rel="next".
// Iteration is restartable per call but not resumable mid-stream.
func (c *Client) Paginate(ctx context.Context, req PageRequest) iter.Seq2[json.RawMessage, error] {
	return c.paginate(ctx, req, Validators{})
}

// PaginateConditional sends the first request with If-None-Match and
// If-Modified-Since. A 304 yields nothing after exactly one call; otherwise
// it behaves like Paginate, and OnResponse sees the fresh validators.
func (c *Client) PaginateConditional(ctx context.Context, req PageRequest, validators Validators) iter.Seq2[json.RawMessage, error] {
	return c.paginate(ctx, req, validators)
}

func (c *Client) paginate(ctx context.Context, req PageRequest, validators Validators) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		params := url.Values{}
		for key, values := range req.Params {
			params[key] = append([]string(nil), values...)
		}
		if params.Get("per_page") == "" {
			params.Set("per_page", strconv.Itoa(c.opts.PerPage))
		}
		current := 1
		if p, err := strconv.Atoi(params.Get("page")); err == nil && p > 0 {
			current = p
		}

		headers := req.Headers.Clone()
		if headers == nil {
			headers = http.Header{}
		}
		if validators.ETag != "" {
			headers.Set("If-None-Match", validators.ETag)
		}
		if validators.LastModified != "" {
			headers.Set("If-Modified-Since", validators.LastModified)
		}

		next := req.Path
		pages := 0
		for next != "" {
			resp, err := c.Request(ctx, http.MethodGet, next, params, headers)
			if err != nil {
				yield(nil, err)
				return
			}
			pages++
			if req.OnResponse != nil {
				req.OnResponse(resp)
			}
			if resp.NotModified() {
				return
			}

			items, err := splitItems(resp.Body)
			if err != nil {
				yield(nil, errs.Wrapf(err, "decode page %d of %s", current, req.Resource))
				return
			}

			nextURL := nextLink(resp.Header)
			nextPage := current + 1
			if nextURL != "" {
				if len(items) == 0 {
					page := current
					c.reportGap(req, Gap{Resource: req.Resource, URL: resp.URL, Page: &page, Detail: GapEmptyPageWithNext})
				}
				if linked, ok := pageOf(nextURL); ok {
					if linked != current+1 {
						expected := current + 1
						page := linked
						c.reportGap(req, Gap{Resource: req.Resource, URL: nextURL, Page: &page, ExpectedPage: &expected, Detail: GapNonSequentialPage})
					}
					nextPage = linked
				}
			}

			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}

			if req.MaxPages > 0 && pages >= req.MaxPages {
				return
			}

			next = nextURL
			current = nextPage
			// the next link already carries the query, validators apply to the first call only
			params = nil
			headers = req.Headers
		}
	}
}

func (c *Client) reportGap(req PageRequest, gap Gap) {
	if req.OnGap != nil {
		req.OnGap(gap)
	}
}

// Decode unmarshals one raw item into T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errs.Wrap(err, "decode item")
	}
	return out, nil
}

// Collect drains a page sequence into decoded values.
func Collect[T any](seq iter.Seq2[json.RawMessage, error]) ([]T, error) {
	var out []T
	for raw, err := range seq {
		if err != nil {
			return nil, err
		}
		item, err := Decode[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// splitItems accepts a JSON array, a search-style {"items": [...]} envelope,
// or a single object.
func splitItems(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		var envelope struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Items != nil {
			return envelope.Items, nil
		}
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	}
	return nil, errs.Wrapf(errInvalidPage, "unexpected body prefix %q", trimmed[0])
}

func nextLink(header http.Header) string {
	for _, link := range linkheader.ParseMultiple(header.Values("Link")).FilterByRel("next") {
		return link.URL
	}
	return ""
}

func pageOf(rawURL string) (int, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, false
	}
	page, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil || page <= 0 {
		return 0, false
	}
	return page, true
}
