// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

// Package logging is a thin, package-level wrapper around logrus matching
// the Infof/Warnf/Debugf/Errorf calling convention used throughout the
// indexing tree, without pulling in the cluster-aware log-file rotation of
// the original secondary/logging package.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the package logger's verbosity, for example to silence
// Warnf/Errorf noise from expected-failure paths.
func SetLevel(level logrus.Level) {
	log.SetLevel(level)
}

func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}
