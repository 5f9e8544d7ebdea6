package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"revloop/internal/config"
	"revloop/internal/domain"
	"revloop/internal/engine"
)

const (
	defaultDispatchInterval = 2 * time.Second
	defaultDispatchTimeout  = 5 * time.Second
	defaultDispatchBatch    = 100
)

// intentDispatcher drains notification intents and posts them to the
// configured webhooks. Draining consumes: a drained intent is delivered
// best-effort and never re-queued, matching the exactly-once drain
// contract.
type intentDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
}

func startIntentDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	d := &intentDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultDispatchTimeout},
	}
	go d.run()
}

func (d *intentDispatcher) run() {
	ticker := time.NewTicker(defaultDispatchInterval)
	defer ticker.Stop()
	for {
		d.dispatchBatch()
		<-ticker.C
	}
}

func (d *intentDispatcher) dispatchBatch() {
	ctx := context.Background()
	intents, err := d.engine.DrainNotificationIntents(ctx, defaultDispatchBatch, time.Now())
	if err != nil {
		zap.S().Errorw("intent dispatch: drain failed", "error", err)
		return
	}
	for _, in := range intents {
		for _, hook := range d.webhooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.URL) == "" {
				continue
			}
			if !kindMatches(hook.Kinds, in.Kind) {
				continue
			}
			if err := d.postIntent(ctx, hook, in); err != nil {
				zap.S().Errorw("intent dispatch: delivery failed", "url", hook.URL, "intent", in.ID, "error", err)
			}
		}
	}
}

type webhookIntent struct {
	ID            int64           `json:"id"`
	ParticipantID string          `json:"participant_id"`
	Kind          string          `json:"kind"`
	OccurredAt    string          `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

func (d *intentDispatcher) postIntent(ctx context.Context, hook config.WebhookConfig, in domain.NotificationIntent) error {
	payload := json.RawMessage([]byte("{}"))
	if in.Payload != "" && json.Valid([]byte(in.Payload)) {
		payload = json.RawMessage([]byte(in.Payload))
	}
	body := webhookIntent{
		ID:            in.ID,
		ParticipantID: in.ParticipantID,
		Kind:          in.Kind,
		OccurredAt:    in.OccurredAt,
		Payload:       payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Revloop-Intent", in.Kind)
	req.Header.Set("X-Revloop-Delivery", fmt.Sprintf("%d", in.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Revloop-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

func kindMatches(kinds []string, kind string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if strings.TrimSpace(k) == kind {
			return true
		}
	}
	return false
}
