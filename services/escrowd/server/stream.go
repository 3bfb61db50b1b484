package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"gigescrow/services/escrowd/journal"
)

const (
	wsWriteTimeout = 10 * time.Second
	backlogPage    = 500
)

func parseCursor(r *http.Request) (uint64, int, error) {
	query := r.URL.Query()
	var after uint64
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, 0, invalid("after", raw)
		}
		after = parsed
	}
	limit := 100
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return 0, 0, invalid("limit", raw)
		}
		limit = parsed
	}
	return after, limit, nil
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable", "event journal not configured")
		return
	}
	after, limit, err := parseCursor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	records, err := s.journal.List(r.Context(), after, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]recordView, 0, len(records))
	for _, rec := range records {
		view, err := newRecordView(rec)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// handleEventStream replays journal records after the cursor and then follows
// new appends over a websocket.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable", "event journal not configured")
		return
	}
	after, _, err := parseCursor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// CloseRead handles control frames and cancels ctx once the peer leaves.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, after uint64) error {
	feed, cancel := s.journal.Subscribe()
	defer cancel()

	var err error
	if after, err = s.replay(ctx, conn, after, 0); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-feed:
			if !ok {
				return nil
			}
			if rec.Seq <= after {
				continue
			}
			// The subscription drops records for slow readers; fill any gap
			// from storage.
			if rec.Seq > after+1 {
				if after, err = s.replay(ctx, conn, after, rec.Seq); err != nil {
					return err
				}
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
			after = rec.Seq
		}
	}
}

// replay writes stored records after the cursor, stopping before the record
// numbered until (0 means no bound). It returns the new cursor.
func (s *Server) replay(ctx context.Context, conn *websocket.Conn, after, until uint64) (uint64, error) {
	for {
		page, err := s.journal.List(ctx, after, backlogPage)
		if err != nil {
			return after, err
		}
		for _, rec := range page {
			if until != 0 && rec.Seq >= until {
				return after, nil
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return after, err
			}
			after = rec.Seq
		}
		if len(page) < backlogPage {
			return after, nil
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec journal.Record) error {
	view, err := newRecordView(rec)
	if err != nil {
		return err
	}
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
