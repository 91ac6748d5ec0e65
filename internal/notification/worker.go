// Package notification pushes error events to operators' browsers.
package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"axle-sync-backend/internal/events"
	"axle-sync-backend/internal/metrics"
	"axle-sync-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Message is the JSON document delivered to the service worker.
type Message struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Source  string `json:"source,omitempty"`
	EventID uint64 `json:"eventId"`
}

// WorkerPool sends a notification for every error event it is handed.
type WorkerPool struct {
	size    int
	jobs    chan events.Event
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	logger  *slog.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan events.Event, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		logger:  logger.With("component", "webpush"),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug("Worker started", "worker", id)
	for {
		select {
		case evt := <-wp.jobs:
			wp.sendNotificationsForEvent(ctx, evt)
		case <-ctx.Done():
			wp.logger.Debug("Worker shutting down", "worker", id)
			return
		}
	}
}

// Observe is a Bus observer. Only error events are queued; when the queue is
// full the event is dropped.
func (wp *WorkerPool) Observe(evt events.Event) {
	if evt.Level != events.LevelError {
		return
	}
	select {
	case wp.jobs <- evt:
	default:
		metrics.PushNotifications.WithLabelValues("dropped").Inc()
	}
}

// Watches reports whether sub asked to hear about source.
func Watches(sub model.PushSubscription, source string) bool {
	if strings.TrimSpace(sub.Integrations) == "" || source == "" {
		return true
	}
	for _, name := range strings.Split(sub.Integrations, ",") {
		if strings.TrimSpace(name) == source {
			return true
		}
	}
	return false
}

func (wp *WorkerPool) sendNotificationsForEvent(ctx context.Context, evt events.Event) {
	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		wp.logger.Error("Failed to load push subscriptions", "error", err)
		return
	}

	title := "上传失败"
	if evt.Source != "" {
		title = evt.Source + " 上传失败"
	}
	payload, err := json.Marshal(Message{Title: title, Body: evt.Message, Source: evt.Source, EventID: evt.ID})
	if err != nil {
		return
	}

	for _, sub := range subscriptions {
		if !Watches(sub, evt.Source) {
			continue
		}
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		metrics.PushNotifications.WithLabelValues("error").Inc()
		wp.logger.Warn("Failed to send notification", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		metrics.PushNotifications.WithLabelValues("expired").Inc()
		wp.logger.Info("Subscription expired, deleting", "endpoint", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.logger.Error("Failed to delete expired subscription", "endpoint", sub.Endpoint, "error", err)
		}
		return
	}
	metrics.PushNotifications.WithLabelValues("sent").Inc()
}
