/*
 * Copyright 2011 Nan Deng
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/uniqush/goconf/conf"
	"github.com/uniqush/log"
	"github.com/uniqush/uniqush-apns/srv/apns"
)

const apnsSection = "APNS"

func extractLogLevel(loglevel string) (int, string) {
	warningMsg := ""
	var level int
	switch strings.ToLower(loglevel) {
	case "alert":
		level = log.LOGLEVEL_ALERT
	case "error":
		level = log.LOGLEVEL_ERROR
	case "warn", "warning":
		level = log.LOGLEVEL_WARN
	case "standard", "verbose", "info":
		level = log.LOGLEVEL_INFO
	case "debug":
		level = log.LOGLEVEL_DEBUG
	default:
		warningMsg = fmt.Sprintf("Unsupported loglevel %q. Supported values: alert, error, warn/warning, standard/verbose/info, and debug", loglevel)
		level = log.LOGLEVEL_INFO
	}
	return level, warningMsg
}

// sessionLogLevel maps a uniqush log level to the events a session should report.
func sessionLogLevel(level int) apns.LogLevel {
	switch level {
	case log.LOGLEVEL_DEBUG:
		return apns.LogAll
	case log.LOGLEVEL_INFO:
		return apns.LogInfo | apns.LogError
	case log.LOGLEVEL_WARN, log.LOGLEVEL_ERROR, log.LOGLEVEL_ALERT:
		return apns.LogError
	}
	return apns.LogNone
}

func loadLogger(writer io.Writer, c *conf.ConfigFile, field string, prefix string) (log.Logger, int, error) {
	var loglevel string
	var logswitch bool
	var err error

	logswitch, err = c.GetBool(field, "log")
	if err != nil {
		logswitch = true
	}

	if writer == nil {
		writer = os.Stderr
	}

	loglevel, err = c.GetString(field, "loglevel")
	if err != nil {
		loglevel = "standard"
	}
	var level int
	warningMsg := ""

	if logswitch {
		level, warningMsg = extractLogLevel(loglevel)
	} else {
		level = log.LOGLEVEL_SILENT
	}

	logger := log.NewLogger(writer, prefix, level)
	if warningMsg != "" {
		logger.Warn(warningMsg)
	}
	return logger, level, nil
}

// LoadSessionConfig returns a representation of the [APNS] section from uniqush-apns.conf.
// Missing or invalid optional values fall back to the defaults of package apns, with a warning.
// A missing certificate or key is left for apns.New to report.
func LoadSessionConfig(cf *conf.ConfigFile, logger log.Logger) (*apns.Config, error) {
	var err error
	c := new(apns.Config)

	mode, err := cf.GetString(apnsSection, "mode")
	if err != nil {
		mode = "production"
	}
	c.Mode, err = apns.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	c.CertificatePath, _ = cf.GetString(apnsSection, "cert")
	c.PrivateKeyPath, _ = cf.GetString(apnsSection, "key")
	c.Passphrase, _ = cf.GetString(apnsSection, "passphrase")
	c.Reconnect, err = cf.GetBool(apnsSection, "reconnect")
	if err != nil {
		c.Reconnect = true
	}
	c.GatewayAddr, _ = cf.GetString(apnsSection, "addr")
	c.FeedbackAddr, _ = cf.GetString(apnsSection, "feedback_addr")
	c.SkipVerify, err = cf.GetBool(apnsSection, "skipverify")
	if err != nil {
		c.SkipVerify = false
	}
	c.Proxy, _ = cf.GetString(apnsSection, "proxy")

	if cf.HasOption(apnsSection, "timeout") {
		seconds, err := cf.GetInt(apnsSection, "timeout")
		if err != nil || seconds <= 0 {
			logger.Warnf("Invalid timeout in [%s], using %v", apnsSection, apns.DefaultIOTimeout)
		} else {
			c.IOTimeout = time.Duration(seconds) * time.Second
		}
	}
	if cf.HasOption(apnsSection, "response_wait") {
		ms, err := cf.GetInt(apnsSection, "response_wait")
		if err != nil || ms <= 0 {
			logger.Warnf("Invalid response_wait in [%s], using %v", apnsSection, apns.DefaultResponseWait)
		} else {
			c.ResponseWait = time.Duration(ms) * time.Millisecond
		}
	}
	if cf.HasOption(apnsSection, "max_payload_size") {
		size, err := cf.GetInt(apnsSection, "max_payload_size")
		if err != nil || size <= 0 {
			logger.Warnf("Invalid max_payload_size in [%s], using %d", apnsSection, apns.DefaultMaxPayloadSize)
		} else {
			c.MaxPayloadSize = size
		}
	}
	return c, nil
}

const (
	defaultConfigFilePath = "/etc/uniqush/uniqush-apns.conf"
)

// OpenConfig opens the uniqush-apns.conf file at filename, or returns an error
func OpenConfig(filename string) (c *conf.ConfigFile, err error) {
	if filename == "" {
		filename = defaultConfigFilePath
	}
	c, err = conf.ReadConfigFile(filename)
	if err != nil {
		return nil, err
	}
	return
}

// LoadLogger returns the logger of the [APNS] section, writing to the [default] logfile if there is one,
// and the event levels the session should report to it.
func LoadLogger(c *conf.ConfigFile) (log.Logger, apns.LogLevel, error) {
	var logfile io.Writer

	logfilename, err := c.GetString("default", "logfile")
	if err == nil && logfilename != "" {
		logfile, err = os.OpenFile(logfilename, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			logfile = os.Stderr
		}
	} else {
		logfile = os.Stderr
	}

	logger, level, err := loadLogger(logfile, c, apnsSection, "[APNS]")
	if err != nil {
		return nil, apns.LogNone, err
	}
	return logger, sessionLogLevel(level), nil
}
