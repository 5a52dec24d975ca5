/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package sentry

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Juice-Labs/annserver/pkg/logger"
)

var (
	SentryDsn = ""
)

const flushTimeout = 2 * time.Second

type ClientOptions = sentry.ClientOptions

// Initialize enables reporting when a DSN is configured, taken from config,
// then SENTRY_DSN, then the build time SentryDsn. Without one it does nothing.
func Initialize(config sentry.ClientOptions) error {
	if config.Dsn == "" {
		config.Dsn = os.Getenv("SENTRY_DSN")
		if config.Dsn == "" {
			config.Dsn = SentryDsn
		}
	}

	if config.Dsn == "" {
		return nil
	}

	err := sentry.Init(config)
	if err != nil {
		return err
	}

	// Errors logged anywhere become breadcrumbs of the next captured event.
	logger.AddOption(zap.Hooks(func(entry zapcore.Entry) error {
		if entry.Level >= zapcore.ErrorLevel {
			sentry.AddBreadcrumb(&sentry.Breadcrumb{
				Type:      "error",
				Category:  "error",
				Level:     sentry.LevelError,
				Message:   fmt.Sprintf("%s %s", entry.Caller.TrimmedPath(), entry.Message),
				Timestamp: entry.Time,
			})
		}
		return nil
	}))

	return nil
}

func Enabled() bool {
	return sentry.CurrentHub().Client() != nil
}

// CaptureError reports err with tags when reporting is enabled.
func CaptureError(err error, tags map[string]string) {
	if err == nil || !Enabled() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

func Close() {
	if err := recover(); err != nil {
		sentry.CurrentHub().Recover(err)
		sentry.Flush(flushTimeout)
		// re-raise panic
		panic(err)
	}
	sentry.Flush(flushTimeout)
}
