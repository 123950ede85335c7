package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mcoot/spinroom/internal/model"
)

type notificationPage struct {
	Notifications []model.Notification `json:"notifications"`
	Cursor        int64                `json:"cursor"`
}

func (m *Manager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.PollOnce(ctx); err != nil && ctx.Err() == nil {
				m.logger.Debug("poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// PollOnce drains the mailbox since the cursor and dispatches what it
// returns. The cursor only moves when notifications came back.
func (m *Manager) PollOnce(ctx context.Context) (int, error) {
	res, err := m.breaker.Execute(func() (interface{}, error) {
		return m.fetch(ctx, m.cursor.Load())
	})
	if err != nil {
		return 0, err
	}
	page := res.(*notificationPage)

	for _, n := range page.Notifications {
		m.Dispatch(ctx, n.Envelope())
	}
	if len(page.Notifications) > 0 && page.Cursor > m.cursor.Load() {
		m.cursor.Store(page.Cursor)
	}
	return len(page.Notifications), nil
}

func (m *Manager) fetch(ctx context.Context, since int64) (*notificationPage, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
	defer cancel()

	endpoint := m.cfg.ServerURL + "/api/v1/notifications?since=" + strconv.FormatInt(since, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.Token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll notifications: status %d", resp.StatusCode)
	}

	var page notificationPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return &page, nil
}
