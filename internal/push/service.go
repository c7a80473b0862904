package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/storage"
)

// Subscription is the browser-side push subscription, stored as raw JSON.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Service sends Web Push notifications to a user's saved subscriptions.
// With nil VAPID options the Notify method is a no-op: subscriptions are
// still accepted and stored, nothing is sent.
type Service struct {
	store storage.SessionStore
	vapid *webpush.Options
}

func NewService(store storage.SessionStore, publicKey, privateKey string) *Service {
	var opts *webpush.Options
	if publicKey != "" && privateKey != "" {
		opts = &webpush.Options{
			Subscriber:      "chatline-push",
			VAPIDPublicKey:  publicKey,
			VAPIDPrivateKey: privateKey,
			TTL:             30,
		}
	}
	return &Service{store: store, vapid: opts}
}

// Enabled reports whether notifications will actually be sent.
func (s *Service) Enabled() bool { return s.vapid != nil }

// Subscribe stores a browser subscription for the user.
func (s *Service) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return s.store.AddPushSubscription(ctx, userID, string(raw))
}

// Unsubscribe removes the subscription matching the endpoint.
func (s *Service) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return s.store.RemovePushSubscription(ctx, userID, endpoint)
}

// Notify pushes a notification to every subscription of the user. Expired
// subscriptions (HTTP 404/410 from the push endpoint) are pruned.
func (s *Service) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if s.vapid == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	list, err := s.store.GetPushSubscriptions(ctx, userID)
	if err != nil {
		logger.Errorf("push notify subs user=%s: %v", userID, err)
		return
	}
	if len(list) == 0 {
		return
	}

	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == "" {
			continue
		}
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.vapid)
		if err != nil {
			logger.Errorf("push send %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			if err := s.store.RemovePushSubscription(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push prune %s: %v", userID, err)
			}
		}
	}
}
