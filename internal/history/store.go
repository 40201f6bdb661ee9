// Package history keeps a summary of every match that reached the ended phase.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/park285/roomlink/internal/domain"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

type TeamSummary struct {
	ID        int         `json:"id"`
	Side      domain.Side `json:"side"`
	CaptainID string      `json:"captainId,omitempty"`
	Members   []string    `json:"members"`
}

// Match is one finished room as stored.
type Match struct {
	RoomID    string        `json:"roomId"`
	Name      string        `json:"name"`
	GameType  string        `json:"gameType,omitempty"`
	Teams     []TeamSummary `json:"teams"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"`
}

func (m Match) Duration() time.Duration {
	if m.StartedAt.IsZero() || m.EndedAt.Before(m.StartedAt) {
		return 0
	}
	return m.EndedAt.Sub(m.StartedAt)
}

type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects to dsn. postgres:// and postgresql:// URLs use lib/pq; anything
// else is taken as a sqlite file path.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("HISTORY_DSN is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	driver := driverSQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = driverPostgres
	} else if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure history directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == driverPostgres {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
	} else {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &Store{db: db, driver: driver, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("history_opened", zap.String("driver", driver))
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if s.driver == driverSQLite {
		if _, err := s.db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
			return fmt.Errorf("configure sqlite: %w", err)
		}
	}
	schema := []string{
		`CREATE TABLE IF NOT EXISTS match_history (
			room_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			game_type TEXT NOT NULL DEFAULT '',
			teams TEXT NOT NULL,
			started_at BIGINT NOT NULL DEFAULT 0,
			ended_at BIGINT NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_match_history_ended ON match_history(ended_at DESC)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Summarize builds the stored form of r.
func Summarize(r *domain.Room, startedAt, endedAt time.Time) Match {
	m := Match{
		RoomID:    r.ID,
		Name:      r.Name,
		GameType:  r.GameType,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	}
	for _, id := range []int{domain.Team1, domain.Team2} {
		t := r.Team(id)
		ts := TeamSummary{ID: id, Side: t.Side, CaptainID: t.CaptainID, Members: []string{}}
		for _, p := range r.TeamPlayers(id) {
			ts.Members = append(ts.Members, p.UserID)
		}
		m.Teams = append(m.Teams, ts)
	}
	return m
}

// RecordMatch upserts the summary of r. Recording the same room twice keeps the latest.
func (s *Store) RecordMatch(ctx context.Context, r *domain.Room, startedAt, endedAt time.Time) error {
	if s == nil || s.db == nil || r == nil {
		return nil
	}
	if r.ID == "" {
		return errors.New("room id is empty")
	}
	return s.Save(ctx, Summarize(r, startedAt, endedAt))
}

func (s *Store) Save(ctx context.Context, m Match) error {
	teams, err := json.Marshal(m.Teams)
	if err != nil {
		return fmt.Errorf("encode teams: %w", err)
	}
	var started int64
	if !m.StartedAt.IsZero() {
		started = m.StartedAt.UnixMilli()
	}

	q := `INSERT INTO match_history (
        room_id, name, game_type, teams, started_at, ended_at, duration_ms
      ) VALUES (?,?,?,?,?,?,?)
      ON CONFLICT (room_id) DO UPDATE SET
        name=EXCLUDED.name,
        game_type=EXCLUDED.game_type,
        teams=EXCLUDED.teams,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`
	_, err = s.db.ExecContext(ctx, s.rebind(q),
		m.RoomID, m.Name, m.GameType, string(teams),
		started, m.EndedAt.UnixMilli(), m.Duration().Milliseconds())
	if err != nil {
		return fmt.Errorf("save match %s: %w", m.RoomID, err)
	}
	return nil
}

// Recent lists up to limit matches, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT room_id, name, game_type, teams, started_at, ended_at
        FROM match_history ORDER BY ended_at DESC, room_id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var (
			m              Match
			teams          string
			started, ended int64
		)
		if err := rows.Scan(&m.RoomID, &m.Name, &m.GameType, &teams, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if err := json.Unmarshal([]byte(teams), &m.Teams); err != nil {
			s.logger.Warn("history_teams_corrupt", zap.String("room_id", m.RoomID), zap.Error(err))
		}
		if started > 0 {
			m.StartedAt = time.UnixMilli(started)
		}
		m.EndedAt = time.UnixMilli(ended)
		out = append(out, m)
	}
	return out, rows.Err()
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(q string) string {
	if s.driver != driverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
