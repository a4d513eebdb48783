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
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/uniqush/uniqush-apns/srv/apns"
)

var uniqushAPNSConfFlags = flag.String("config", "/etc/uniqush/uniqush-apns.conf", "Config file path")
var uniqushAPNSShowVersionFlag = flag.Bool("version", false, "Version info")
var tokenFlag = flag.String("token", "", "Device token (64 hex digits)")
var badgeFlag = flag.Int("badge", 0, "Badge count")
var bodyFlag = flag.String("body", "", "Alert text")
var expiryFlag = flag.Duration("expiry", apns.DefaultExpiration, "How long APNS keeps trying to deliver")
var priorityFlag = flag.String("priority", "high", "high or normal")
var feedbackFlag = flag.Bool("feedback", false, "List the tokens reported by the feedback service instead of sending")

var uniqushAPNSVersion = "uniqush-apns 1.0.0"

func parsePriority(s string) (apns.Priority, error) {
	switch s {
	case "high", "10":
		return apns.PriorityHigh, nil
	case "normal", "5":
		return apns.PriorityNormal, nil
	}
	return 0, fmt.Errorf("unsupported priority %q, expected high or normal", s)
}

// Run sends one notification, or reads the feedback service, with the session described by the config file.
func Run(ctx context.Context, conFile string) error {
	c, err := OpenConfig(conFile)
	if err != nil {
		return err
	}
	logger, level, err := LoadLogger(c)
	if err != nil {
		return err
	}
	cfg, err := LoadSessionConfig(c, logger)
	if err != nil {
		return err
	}
	cfg.LogLevel = level

	session, err := apns.New(*cfg, apns.WithLogHandler(apns.NewLoggerHandler(logger)))
	if err != nil {
		return err
	}
	defer session.Close()

	if *feedbackFlag {
		tuples, err := session.Feedback(ctx)
		if err != nil {
			return err
		}
		for _, tuple := range tuples {
			fmt.Printf("%v\t%v\n", tuple.Token, tuple.Timestamp.Format(time.RFC3339))
		}
		return nil
	}

	priority, err := parsePriority(*priorityFlag)
	if err != nil {
		return err
	}
	opts := []apns.PayloadOption{apns.WithExpiration(*expiryFlag), apns.WithPriority(priority)}
	if cfg.MaxPayloadSize > 0 {
		opts = append(opts, apns.WithMaxPayloadSize(cfg.MaxPayloadSize))
	}
	payload, err := apns.NewPayload(*badgeFlag, *bodyFlag, *tokenFlag, opts...)
	if err != nil {
		return err
	}
	if err := session.Connect(ctx); err != nil {
		return err
	}
	result, err := session.Send(ctx, payload)
	if err != nil {
		return err
	}
	fmt.Printf("Delivered: %d\n", result.Delivered)
	for _, invalid := range result.InvalidTokens {
		fmt.Printf("Invalid token %v: %v\n", invalid.Token, invalid.Reason)
	}
	return nil
}

func main() {
	flag.Parse()
	if *uniqushAPNSShowVersionFlag {
		fmt.Printf("%v\n", uniqushAPNSVersion)
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := Run(ctx, *uniqushAPNSConfFlags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot send: %v\n", err)
		os.Exit(1)
	}
}
