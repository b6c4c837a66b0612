package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"ripple.app/sync/common/id"
	"ripple.app/sync/common/logger"
	"ripple.app/sync/internal/metadata"
	"ripple.app/sync/internal/model"
	"ripple.app/sync/internal/store"
)

const mailCollection = "data.Message"

// AlertDispatcher notifies the users watching a changed record: a
// human-readable field diff per recipient, posted to the configured webhooks
// and queued as a mail message for the external delivery worker. Everything
// here is best effort; failures are logged and swallowed, and the pipeline
// never waits on this stage.
type AlertDispatcher struct {
	data     store.DataStore
	client   *http.Client
	webhooks []string
	mailFrom string
	stats    *Stats
}

func NewAlertDispatcher(data store.DataStore, webhooks []string, mailFrom string, stats *Stats) *AlertDispatcher {
	return &AlertDispatcher{
		data:     data,
		client:   &http.Client{Timeout: 10 * time.Second},
		webhooks: webhooks,
		mailFrom: mailFrom,
		stats:    stats,
	}
}

// Dispatch builds and sends the notifications for one change. Only documents
// with alerts enabled reach the recipients; the acting user and inactive
// users never do.
func (d *AlertDispatcher) Dispatch(ctx context.Context, graph *metadata.Graph, change *model.ChangeRecord) {
	doc, ok := graph.Document(change.Document)
	if !ok || !doc.SendAlerts {
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "ripple.engine.alerts"})

	diffSource := bson.M{}
	for key, value := range change.WithoutBookkeeping() {
		if field := doc.Fields[model.FirstPart(key)]; field != nil && field.IgnoreHistory {
			continue
		}
		diffSource[key] = value
	}
	if len(diffSource) == 0 {
		return
	}

	watchers, code := d.watchers(ctx, doc, change)
	actor := refID(change.UpdatedBy)

	for _, raw := range watchers {
		user := toDoc(raw)
		if user == nil {
			continue
		}
		if active, isBool := user["active"].(bool); isBool && !active {
			continue
		}
		if userID := refID(user); userID != nil && actor != nil && fmt.Sprint(userID) == fmt.Sprint(actor) {
			continue
		}
		d.notify(ctx, graph, doc, change, user, code, diffSource)
	}
}

// watchers returns the record's current user assignments. On update the
// record is re-read rather than trusting the delta, since the assignment
// itself may have just changed.
func (d *AlertDispatcher) watchers(ctx context.Context, doc *model.Document, change *model.ChangeRecord) ([]any, any) {
	source := change.Data
	if change.Action == model.ActionUpdate {
		record, err := d.data.FindOne(ctx, doc.CollectionName(),
			bson.M{"_id": change.ID},
			&store.FindOptions{Projection: bson.M{"_user": 1, "code": 1}})
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.ErrorContext(ctx, "reading record for alert recipients failed", "error", err)
			}
			return nil, nil
		}
		source = record
	}
	return toList(source["_user"]), source["code"]
}

func (d *AlertDispatcher) notify(ctx context.Context, graph *metadata.Graph, doc *model.Document, change *model.ChangeRecord, user bson.M, code any, data bson.M) {
	locale, _ := user["locale"].(string)
	if locale == "" {
		locale = "en"
	}

	diffs := make([]bson.M, 0, len(data))
	for key, value := range data {
		field := doc.Fields[model.FirstPart(key)]
		label := key
		if field != nil {
			if l := metadata.LocalizedLabel(field.Label, locale); l != "" {
				label = l
			}
		}
		diffs = append(diffs, bson.M{"label": label, "value": graph.FormatValue(field, value)})
	}

	documentLabel := metadata.LocalizedLabel(doc.Label, locale)
	if documentLabel == "" {
		documentLabel = doc.Name
	}

	payload := bson.M{
		"document":      doc.Name,
		"documentLabel": documentLabel,
		"action":        string(change.Action),
		"code":          code,
		"updatedBy":     change.UpdatedBy,
		"updatedAt":     change.UpdatedAt,
		"data":          diffs,
		"user":          bson.M{"_id": user["_id"], "locale": locale},
	}

	for _, url := range d.webhooks {
		d.post(ctx, url, payload)
	}
	d.queueMail(ctx, user, documentLabel, change, payload)
	d.stats.AlertsDispatched.Add(1)
}

// post delivers the payload to one webhook, fire and forget.
func (d *AlertDispatcher) post(ctx context.Context, url string, payload bson.M) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "encoding alert payload failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		slog.ErrorContext(ctx, "building alert request failed", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		slog.ErrorContext(ctx, "alert webhook unreachable", "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.ErrorContext(ctx, "alert webhook rejected payload", "url", url, "status", resp.StatusCode)
	}
}

// queueMail inserts a queued-message document for the external mail worker.
func (d *AlertDispatcher) queueMail(ctx context.Context, user bson.M, documentLabel string, change *model.ChangeRecord, payload bson.M) {
	address := firstEmail(user)
	if address == "" {
		return
	}

	message := bson.M{
		"_id":        id.NewString(),
		"type":       "email",
		"status":     "Send",
		"template":   "alert-email.html",
		"from":       d.mailFrom,
		"to":         address,
		"subject":    fmt.Sprintf("%s %s", documentLabel, actionVerb(change.Action)),
		"data":       payload,
		"discard":    true,
		"_createdAt": time.Now(),
	}
	if err := d.data.InsertOne(ctx, mailCollection, message); err != nil {
		slog.ErrorContext(ctx, "queueing alert mail failed", "to", address, "error", err)
	}
}

func actionVerb(action model.Action) string {
	switch action {
	case model.ActionCreate:
		return "created"
	case model.ActionDelete:
		return "deleted"
	default:
		return "updated"
	}
}

func refID(doc bson.M) any {
	if doc == nil {
		return nil
	}
	return doc["_id"]
}

func firstEmail(user bson.M) string {
	for _, item := range toList(user["emails"]) {
		if email := toDoc(item); email != nil {
			if address, ok := email["address"].(string); ok && address != "" {
				return address
			}
		}
	}
	return ""
}
