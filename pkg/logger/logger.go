/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package logger

import (
	"flag"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	quiet       = flag.Bool("quiet", false, "Disables all logging output")
	logLevelArg = flag.String("log-level", "info", "Sets the maximum level of output [Fatal, Error, Warning, Info (Default), Debug]")
	logFile     = flag.String("log-file", "", "Writes the log to the given file instead of stderr")
	logFormat   = flag.String("log-format", "juice", "Set the format of the logging [juice, console, json]")

	logLevel = zap.NewAtomicLevel()

	// Until Configure is called everything is discarded, which keeps package
	// tests quiet without any setup.
	logger       *zap.Logger        = zap.NewNop()
	sugardLogger *zap.SugaredLogger = logger.Sugar()
	options      []zap.Option

	encoderRegistered = false
)

func LogLevelAsString() (string, error) {
	return logLevel.String(), nil
}

func AddOption(option zap.Option) {
	options = append(options, option)
}

func Configure() error {
	var err error

	logLevel, err = zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(*logLevelArg)))
	if err != nil {
		return err
	}

	if !encoderRegistered {
		err = zap.RegisterEncoder("juice", NewJuiceEncoder)
		if err != nil {
			return err
		}
		encoderRegistered = true
	}

	config := zap.NewDevelopmentConfig()
	config.Encoding = *logFormat
	config.Level = logLevel
	if *logFile != "" {
		config.OutputPaths = []string{
			*logFile,
		}
	}

	if *quiet {
		logger = zap.NewNop()
	} else {
		logger, err = config.Build(options...)
		if err != nil {
			return fmt.Errorf("failed to initialize logger, %w", err)
		}
	}

	// Skip our logger api for the package level helpers only; loggers
	// returned from With are called directly.
	sugardLogger = logger.WithOptions(zap.AddCallerSkip(1)).Sugar()
	return nil
}

func Close() {
	logger.Sync()
}

// With returns a logger carrying the given key/value pairs on every entry.
func With(args ...any) *zap.SugaredLogger {
	return logger.Sugar().With(args...)
}

func Fatal(v ...any) {
	sugardLogger.Panic(v...)
}

func Fatalf(format string, v ...any) {
	sugardLogger.Panicf(format, v...)
}

func Panic(v ...any) {
	sugardLogger.Panic(v...)
}

func Panicf(format string, v ...any) {
	sugardLogger.Panicf(format, v...)
}

func Error(v ...any) {
	sugardLogger.Error(v...)
}

func Errorf(format string, v ...any) {
	sugardLogger.Errorf(format, v...)
}

func Warning(v ...any) {
	sugardLogger.Warn(v...)
}

func Warningf(format string, v ...any) {
	sugardLogger.Warnf(format, v...)
}

func Info(v ...any) {
	sugardLogger.Info(v...)
}

func Infof(format string, v ...any) {
	sugardLogger.Infof(format, v...)
}

func Debug(v ...any) {
	sugardLogger.Debug(v...)
}

func Debugf(format string, v ...any) {
	sugardLogger.Debugf(format, v...)
}
