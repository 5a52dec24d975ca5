/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package restapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

func parseBody(body io.Reader) ([]byte, error) {
	return io.ReadAll(body)
}

func parseResponse(response *http.Response, contentType string) ([]byte, error) {
	body, err := parseBody(response.Body)
	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		if len(body) > 0 {
			return nil, fmt.Errorf("error received from server, code %d\nmessage: %s", response.StatusCode, string(body))
		}

		return nil, fmt.Errorf("error received from server, code %d", response.StatusCode)
	}

	if !strings.HasPrefix(response.Header.Get("Content-Type"), contentType) {
		return nil, fmt.Errorf("expected Content-Type=%s, received %s", contentType, response.Header.Get("Content-Type"))
	}

	return body, nil
}

func parseJsonResponse[T any](response *http.Response) (T, error) {
	var result T

	body, err := parseResponse(response, "application/json")
	if err != nil {
		return result, err
	}

	err = json.Unmarshal(body, &result)
	return result, err
}

func validateResponse(response *http.Response) error {
	body, err := parseBody(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode != http.StatusOK {
		if len(body) > 0 {
			return fmt.Errorf("error received from server, code %d\nmessage: %s", response.StatusCode, string(body))
		}

		return fmt.Errorf("error received from server, code %d", response.StatusCode)
	}

	return nil
}
