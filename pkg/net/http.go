/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package net

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Juice-Labs/annserver/pkg/logger"
)

func Respond[T any](w http.ResponseWriter, code int, obj T) error {
	data, err := json.Marshal(obj)
	if err == nil {
		w.Header().Add("Content-Type", "application/json")
		w.Header().Add("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(code)
		_, err = w.Write(data)
	}

	return err
}

func RespondWithString(w http.ResponseWriter, code int, msg string) error {
	w.Header().Add("Content-Type", "text/plain")
	w.Header().Add("Content-Length", fmt.Sprint(len(msg)))
	w.WriteHeader(code)
	_, err := io.WriteString(w, msg)
	return err
}

func RespondEmpty(w http.ResponseWriter, code int) {
	w.WriteHeader(code)
}

// RespondWithError reports err as plain text with code and logs it.
func RespondWithError(w http.ResponseWriter, code int, err error) {
	logger.Error(err)

	err = RespondWithString(w, code, err.Error())
	if err != nil {
		logger.Error(err)
	}
}
