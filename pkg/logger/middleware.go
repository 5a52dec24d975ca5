/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package logger

import (
	"net/http"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (recorder *statusRecorder) WriteHeader(status int) {
	recorder.status = status
	recorder.ResponseWriter.WriteHeader(status)
}

// Middleware logs every request at debug level with its status and duration.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		Debugf("%s %s %s %d %s", r.RemoteAddr, r.Method, r.RequestURI, recorder.status, time.Since(start))
	})
}
