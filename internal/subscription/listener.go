package subscription

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// notifyPayload is the JSON body a trigger is expected to send via
// pg_notify, matching Event's fields.
type notifyPayload struct {
	Table     string         `json:"table"`
	Operation string         `json:"operation"`
	Payload   map[string]any `json:"payload"`
}

// ListenNotifyListener listens on a Postgres channel via LISTEN/NOTIFY.
type ListenNotifyListener struct {
	pool    *pgxpool.Pool
	channel string
}

func NewListenNotifyListener(pool *pgxpool.Pool, channel string) *ListenNotifyListener {
	return &ListenNotifyListener{pool: pool, channel: channel}
}

func (l *ListenNotifyListener) Run(ctx context.Context, onEvent func(Event)) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return mcperrors.Wrap(mcperrors.ServiceUnavailable, err, "failed to acquire listen connection")
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN \""+l.channel+"\""); err != nil {
		return mcperrors.Wrap(mcperrors.Internal, err, "failed to LISTEN on channel %q", l.channel)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return mcperrors.Wrap(mcperrors.Internal, err, "listen loop failed")
		}
		var payload notifyPayload
		if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
			log.Warn().Err(err).Str("channel", l.channel).Msg("failed to decode notification payload")
			continue
		}
		onEvent(Event{Table: payload.Table, Operation: payload.Operation, Payload: payload.Payload})
	}
}

// PollingListener polls a table for rows newer than the last seen cursor
// column, for connections that do not support LISTEN/NOTIFY.
type PollingListener struct {
	pool         *pgxpool.Pool
	query        string
	interval     time.Duration
	scanCursor   func(rows map[string]any) int64
}

func NewPollingListener(pool *pgxpool.Pool, query string, interval time.Duration, scanCursor func(rows map[string]any) int64) *PollingListener {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollingListener{pool: pool, query: query, interval: interval, scanCursor: scanCursor}
}

func (p *PollingListener) Run(ctx context.Context, onEvent func(Event)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastCursor int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rows, err := p.pool.Query(ctx, p.query, lastCursor)
			if err != nil {
				log.Warn().Err(err).Msg("polling listener query failed")
				continue
			}
			fields := rows.FieldDescriptions()
			names := make([]string, len(fields))
			for i, f := range fields {
				names[i] = f.Name
			}
			for rows.Next() {
				vals, err := rows.Values()
				if err != nil {
					continue
				}
				row := make(map[string]any, len(names))
				for i, name := range names {
					if i < len(vals) {
						row[name] = vals[i]
					}
				}
				if cursor := p.scanCursor(row); cursor > lastCursor {
					lastCursor = cursor
				}
				onEvent(Event{Operation: "update", Payload: row})
			}
			rows.Close()
		}
	}
}
