// Package notify turns order lifecycle events into best-effort user
// notifications. Delivery is fire-and-forget from the ordering flow's point
// of view: a failed notification never affects the order itself.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPermanent marks delivery failures that retrying cannot fix, such as the
// webhook rejecting the payload.
var ErrPermanent = errors.New("notification permanently rejected")

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Notifier interface {
	Send(n Notification) error
}

// WebhookNotifier posts notifications to a configured HTTP endpoint.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewWebhookNotifier(url string, logger *logrus.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (n *WebhookNotifier) Send(notification Notification) error {
	jsonData, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("%w: marshal notification: %v", ErrPermanent, err)
	}

	req, err := http.NewRequest("POST", n.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: webhook returned status %d", ErrPermanent, resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.WithField("title", notification.Title).Info("Notification delivered")
	return nil
}

// LogNotifier is the fallback when no webhook is configured.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(notification Notification) error {
	n.logger.WithFields(logrus.Fields{
		"title": notification.Title,
		"body":  notification.Body,
	}).Info("Notification (no webhook configured)")
	return nil
}
