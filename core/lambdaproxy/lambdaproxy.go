// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package lambdaproxy serves an http.Handler from AWS Lambda behind an API Gateway HTTP API
(payload format 2.0).

	lambda.Start(lambdaproxy.New(router).Handle)
*/
package lambdaproxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"

	"github.com/relabs-tech/crudroutes/core/logger"
)

// Proxy translates API Gateway events into requests for an http.Handler
type Proxy struct {
	handler http.Handler
}

// New returns a proxy for handler
func New(handler http.Handler) *Proxy {
	return &Proxy{handler: handler}
}

// Handle serves one API Gateway event
func (p *Proxy) Handle(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	r, err := NewRequest(ctx, event)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}
	rec := httptest.NewRecorder()
	p.handler.ServeHTTP(rec, r)
	return NewResponse(rec.Result())
}

// NewRequest converts an API Gateway event into an http.Request. The request ID of the
// gateway is used as request ID, unless the caller sent one.
func NewRequest(ctx context.Context, event events.APIGatewayV2HTTPRequest) (*http.Request, error) {
	path := event.RawPath
	if path == "" {
		path = event.RequestContext.HTTP.Path
	}
	u := url.URL{Path: path, RawQuery: event.RawQueryString}
	if event.RequestContext.DomainName != "" {
		u.Scheme = "https"
		u.Host = event.RequestContext.DomainName
	}

	var body io.Reader
	if event.Body != "" {
		if event.IsBase64Encoded {
			data, err := base64.StdEncoding.DecodeString(event.Body)
			if err != nil {
				return nil, fmt.Errorf("cannot decode body: %w", err)
			}
			body = bytes.NewReader(data)
		} else {
			body = strings.NewReader(event.Body)
		}
	}

	r, err := http.NewRequestWithContext(ctx, event.RequestContext.HTTP.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	// API Gateway joins repeated headers with commas
	for key, value := range event.Headers {
		for _, v := range strings.Split(value, ",") {
			r.Header.Add(key, strings.TrimSpace(v))
		}
	}
	if len(event.Cookies) > 0 {
		r.Header.Set("Cookie", strings.Join(event.Cookies, "; "))
	}
	if r.Header.Get(logger.RequestIDHeader) == "" && event.RequestContext.RequestID != "" {
		r.Header.Set(logger.RequestIDHeader, event.RequestContext.RequestID)
	}
	r.RemoteAddr = event.RequestContext.HTTP.SourceIP
	r.RequestURI = u.RequestURI()
	return r, nil
}

// NewResponse converts a response into an API Gateway response. Bodies which are not valid
// UTF-8 or which are content encoded are sent base64 encoded.
func NewResponse(res *http.Response) (events.APIGatewayV2HTTPResponse, error) {
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{}, err
	}

	response := events.APIGatewayV2HTTPResponse{
		StatusCode: res.StatusCode,
		Headers:    map[string]string{},
	}
	for key, values := range res.Header {
		if key == "Set-Cookie" {
			response.Cookies = append(response.Cookies, values...)
			continue
		}
		response.Headers[key] = strings.Join(values, ",")
	}
	if res.Header.Get("Content-Encoding") != "" || !utf8.Valid(data) {
		response.Body = base64.StdEncoding.EncodeToString(data)
		response.IsBase64Encoded = true
	} else {
		response.Body = string(data)
	}
	return response, nil
}
