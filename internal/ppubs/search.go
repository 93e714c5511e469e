// SPDX-License-Identifier: MIT

package ppubs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Source databases recognised by the upstream.
const (
	SourceGrantedPatents        = "USPAT"
	SourcePublishedApplications = "US-PGPUB"
	SourceOCR                   = "USOCR"
)

const (
	countsPath = "/api/searches/counts"
	searchPath = "/api/searches/searchWithBeFamily"

	defaultSearchLimit = 100
	maxSearchLimit     = 500
)

// DefaultSources is the database set searched when the caller names none.
func DefaultSources() []string {
	return []string{SourcePublishedApplications, SourceGrantedPatents, SourceOCR}
}

// SearchOptions tunes a query. Use DefaultSearchOptions as the base.
type SearchOptions struct {
	Start              int
	Limit              int
	Sort               string
	Operator           string
	Sources            []string
	Plurals            bool
	BritishEquivalents bool
}

// DefaultSearchOptions returns the upstream's conventional query settings.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit:              defaultSearchLimit,
		Sort:               "date_publ desc",
		Operator:           "OR",
		Sources:            DefaultSources(),
		Plurals:            true,
		BritishEquivalents: true,
	}
}

func (o *SearchOptions) normalize() {
	if o.Limit <= 0 {
		o.Limit = defaultSearchLimit
	}
	if o.Limit > maxSearchLimit {
		o.Limit = maxSearchLimit
	}
	if o.Sort == "" {
		o.Sort = "date_publ desc"
	}
	if o.Operator == "" {
		o.Operator = "OR"
	}
	if len(o.Sources) == 0 {
		o.Sources = DefaultSources()
	}
}

type databaseFilter struct {
	DatabaseName string   `json:"databaseName"`
	CountryCodes []string `json:"countryCodes"`
}

// searchQuery is the query object shared by the counts and search calls.
type searchQuery struct {
	CaseID             string           `json:"caseId"`
	Op                 string           `json:"op"`
	Q                  string           `json:"q"`
	QueryName          string           `json:"queryName"`
	UserEnteredQuery   string           `json:"userEnteredQuery"`
	DatabaseFilters    []databaseFilter `json:"databaseFilters"`
	Plurals            bool             `json:"plurals"`
	BritishEquivalents bool             `json:"britishEquivalents"`
}

type searchRequest struct {
	Start     int         `json:"start"`
	PageCount int         `json:"pageCount"`
	Sort      string      `json:"sort"`
	Query     searchQuery `json:"query"`
}

// PatentDoc is one hit from a search. ImageLocation and PageCount feed the
// PDF pipeline.
type PatentDoc struct {
	GUID            string     `json:"guid"`
	Type            string     `json:"type"`
	PatentNumber    string     `json:"patentNumber"`
	Title           string     `json:"inventionTitle"`
	DatePublished   string     `json:"datePublished"`
	ImageLocation   string     `json:"imageLocation"`
	PageCount       int        `json:"pageCount"`
	ApplicationYear flexString `json:"applicationFilingDate,omitempty"`
}

// SearchResult is the decoded search response.
type SearchResult struct {
	NumFound int         `json:"numFound"`
	Docs     []PatentDoc `json:"patents"`
}

// upstreamFailure is the error object some 200 bodies carry instead of a
// result.
type upstreamFailure struct {
	Error *struct {
		ErrorMessage string `json:"errorMessage"`
		ErrorCode    string `json:"errorCode"`
	} `json:"error"`
}

// Search runs a query: a counts call to validate it, then the full search.
// Both calls carry the session's case ID inside the payload.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	opts.normalize()

	build := func(sess Session) searchRequest {
		filters := make([]databaseFilter, 0, len(opts.Sources))
		for _, s := range opts.Sources {
			filters = append(filters, databaseFilter{DatabaseName: s, CountryCodes: []string{}})
		}
		return searchRequest{
			Start:     opts.Start,
			PageCount: opts.Limit,
			Sort:      opts.Sort,
			Query: searchQuery{
				CaseID:             sess.CaseID,
				Op:                 opts.Operator,
				Q:                  query,
				QueryName:          query,
				UserEnteredQuery:   query,
				DatabaseFilters:    filters,
				Plurals:            opts.Plurals,
				BritishEquivalents: opts.BritishEquivalents,
			},
		}
	}

	// Counts first: it rejects malformed queries cheaply and mirrors the
	// upstream UI's behaviour.
	res, err := c.invoke(ctx, "search.counts", c.attempts, func(ctx context.Context, sess Session) (*http.Request, error) {
		return c.newJSONRequest(ctx, sess, http.MethodPost, countsPath, build(sess).Query)
	})
	if err != nil {
		return nil, err
	}
	if err := embeddedFailure("search.counts", res); err != nil {
		return nil, err
	}

	res, err = c.invoke(ctx, "search.query", c.attempts, func(ctx context.Context, sess Session) (*http.Request, error) {
		return c.newJSONRequest(ctx, sess, http.MethodPost, searchPath, build(sess))
	})
	if err != nil {
		return nil, err
	}
	if err := embeddedFailure("search.query", res); err != nil {
		return nil, err
	}

	var result SearchResult
	if err := json.Unmarshal(res.Body, &result); err != nil {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "search.query", Status: res.Status, Err: err}
	}
	return &result, nil
}

// Document fetches full document details by GUID through the highlight
// endpoint. source names the database the GUID belongs to (e.g. USPAT).
func (c *Client) Document(ctx context.Context, guid, source string) (json.RawMessage, error) {
	if guid == "" {
		return nil, fmt.Errorf("document: empty guid")
	}
	if source == "" {
		source = SourceGrantedPatents
	}

	path := "/api/patents/highlight/" + url.PathEscape(guid)
	res, err := c.invoke(ctx, "document.highlight", c.attempts, func(ctx context.Context, sess Session) (*http.Request, error) {
		req, err := c.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("queryId", "1")
		q.Set("source", source)
		q.Set("includeSections", "true")
		req.URL.RawQuery = q.Encode()
		req.Header.Set(accessTokenHeader, sess.AccessToken)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if err := embeddedFailure("document.highlight", res); err != nil {
		return nil, err
	}
	if !json.Valid(res.Body) {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "document.highlight", Status: res.Status, Body: "non-JSON document body"}
	}
	return json.RawMessage(res.Body), nil
}

// embeddedFailure detects the error object some upstream 200 responses carry
// in place of a result, surfacing it as a malformed-response failure.
func embeddedFailure(op string, res *upstreamResponse) error {
	var probe upstreamFailure
	if err := json.Unmarshal(res.Body, &probe); err != nil || probe.Error == nil {
		return nil
	}
	return &Error{
		Sentinel:  ErrBadResponse,
		Operation: op,
		Status:    res.Status,
		Code:      probe.Error.ErrorCode,
		Body:      probe.Error.ErrorMessage,
	}
}
