package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// PushNotifier tries the user's websocket first and falls back to an HTTP
// push endpoint. With no endpoint configured, an offline user just misses
// the notification; the match itself is unaffected.
type PushNotifier struct {
	Registry *WSRegistry
	Endpoint string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewPushNotifier(registry *WSRegistry, endpoint string, logger *slog.Logger) *PushNotifier {
	return &PushNotifier{
		Registry: registry,
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

func (p *PushNotifier) Notify(ctx context.Context, userID, message string) error {
	n := Notification{UserID: userID, Message: message, SentAt: time.Now().UTC()}

	if p.Registry != nil {
		err := p.Registry.Send(userID, n)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNoSession) {
			p.Logger.Warn("websocket send failed", "user_id", userID, "error", err)
		}
	}

	if p.Endpoint == "" {
		return ErrNoSession
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %s", resp.Status)
	}
	return nil
}
