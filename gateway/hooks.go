// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package gateway

import (
	"context"
	"fmt"
)

const (
	// PerformanceMark is the message type carrying a named duration.
	PerformanceMark = "PERFORMANCE_MARK"

	// BackgroundSync is the sync tag the gateway reacts to.
	BackgroundSync = "background-sync"

	notificationTitle = "Text-to-Voice"
)

// Message is a message posted to the gateway by a page.
type Message struct {
	Type     string
	Name     string
	Duration float64
}

// MarkRecorder records performance marks reported through messages.
type MarkRecorder interface {
	RecordMark(name string, durationMs float64)
}

// NotificationAction is a button shown with a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon"`
}

// NotificationData is attached to a notification for the click handler.
type NotificationData struct {
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    int   `json:"primaryKey"`
}

// Notification is built from a push message.
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions"`
}

// Notifier shows notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// OnMessage handles a message posted by a page. Performance marks are
// logged and forwarded to the mark recorder, other messages are ignored.
func (g *Gateway) OnMessage(m Message) {
	if m.Type != PerformanceMark {
		g.logger.Debugf("Ignoring message of type %q", m.Type)
		return
	}
	g.logger.Infow("Performance mark", "name", m.Name, "duration", m.Duration)
	if g.marks != nil && m.Name != "" {
		g.marks.RecordMark(m.Name, m.Duration)
	}
}

// OnSync handles a background sync trigger.
func (g *Gateway) OnSync(tag string) {
	if tag != BackgroundSync {
		g.logger.Debugf("Ignoring sync tag %q", tag)
		return
	}
	g.logger.Info("Background sync triggered")
}

// OnPush builds a notification from a push payload and hands it to the
// notifier. Empty payloads are ignored.
func (g *Gateway) OnPush(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	n := NewNotification(string(data), g.clock.Now().UnixMilli())
	if g.notifier == nil {
		g.logger.Infow("Push notification", "title", n.Title, "body", n.Body)
		return nil
	}
	if err := g.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("failed to show notification: %w", err)
	}
	return nil
}

// OnError logs an error raised while handling a gateway event.
func (g *Gateway) OnError(err error) {
	if err == nil {
		return
	}
	g.logger.Errorf("Gateway error: %v", err)
}

// NewNotification returns the notification shown for a push message.
func NewNotification(body string, arrivedAtMs int64) Notification {
	return Notification{
		Title:   notificationTitle,
		Body:    body,
		Icon:    "/icon-192.png",
		Badge:   "/badge-72.png",
		Vibrate: []int{100, 50, 100},
		Data: NotificationData{
			DateOfArrival: arrivedAtMs,
			PrimaryKey:    1,
		},
		Actions: []NotificationAction{
			{Action: "explore", Title: "Open App", Icon: "/check.png"},
			{Action: "close", Title: "Close", Icon: "/xmark.png"},
		},
	}
}
