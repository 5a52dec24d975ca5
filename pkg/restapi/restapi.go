/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package restapi

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// RestApi reads the HTTP status surface of an annserver.
type RestApi struct {
	Client  *http.Client
	Scheme  string
	Address string
}

func (api RestApi) do(ctx context.Context, method string, path string, body io.Reader) (*http.Response, error) {
	url := url.URL{
		Scheme: api.Scheme,
		Host:   api.Address,
		Path:   path,
	}

	request, err := http.NewRequestWithContext(ctx, method, url.String(), body)
	if err != nil {
		return nil, err
	}

	client := api.Client
	if client == nil {
		client = http.DefaultClient
	}

	return client.Do(request)
}

func (api RestApi) get(ctx context.Context, path string) (*http.Response, error) {
	return api.do(ctx, "GET", path, nil)
}

func (api RestApi) Status() (Status, error) {
	return api.StatusWithContext(context.Background())
}

func (api RestApi) StatusWithContext(ctx context.Context) (Status, error) {
	response, err := api.get(ctx, "/v1/status")
	if err != nil {
		return Status{}, err
	}
	defer response.Body.Close()

	return parseJsonResponse[Status](response)
}

func (api RestApi) Sessions() ([]Session, error) {
	return api.SessionsWithContext(context.Background())
}

func (api RestApi) SessionsWithContext(ctx context.Context) ([]Session, error) {
	response, err := api.get(ctx, "/v1/sessions")
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	return parseJsonResponse[[]Session](response)
}

func (api RestApi) Models() ([]Model, error) {
	return api.ModelsWithContext(context.Background())
}

func (api RestApi) ModelsWithContext(ctx context.Context) ([]Model, error) {
	response, err := api.get(ctx, "/v1/models")
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	return parseJsonResponse[[]Model](response)
}

// CancelSession aborts a running session. Its client receives DONE with an
// error.
func (api RestApi) CancelSession(id string) error {
	return api.CancelSessionWithContext(context.Background(), id)
}

func (api RestApi) CancelSessionWithContext(ctx context.Context, id string) error {
	response, err := api.do(ctx, "DELETE", "/v1/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	return validateResponse(response)
}
