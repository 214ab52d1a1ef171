package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
)

//go:embed schema/registrations.sql
var schemaSQL string

const columns = `user_id, event_id, user_name, event_title, event_date, event_location,
	event_latitude, event_longitude, status, registered_at, completed_at`

// sqlStore holds the queries shared by the SQLite and Postgres stores.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db       *sql.DB
	driver   string
	numbered bool
	notify   func(ctx context.Context, userID string)
	logger   logger.Logger
}

func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Get(ctx context.Context, userID, eventID string) (model.Registration, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+columns+` FROM registrations WHERE user_id = ? AND event_id = ?`),
		userID, eventID)
	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Registration{}, model.ErrNoRecord
	}
	if err != nil {
		return model.Registration{}, model.Unavailable(s.driver+" get", err)
	}
	return reg, nil
}

func (s *sqlStore) CreateIfAbsent(ctx context.Context, reg model.Registration) (model.Registration, bool, error) {
	if err := validate(reg); err != nil {
		return model.Registration{}, false, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO registrations (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, event_id) DO UPDATE SET
			user_name = excluded.user_name,
			event_title = excluded.event_title,
			event_date = excluded.event_date,
			event_location = excluded.event_location,
			event_latitude = excluded.event_latitude,
			event_longitude = excluded.event_longitude,
			status = excluded.status,
			registered_at = excluded.registered_at,
			completed_at = NULL
		WHERE registrations.status = 'cancelled'`),
		reg.UserID, reg.EventID, reg.UserName, reg.EventTitle, reg.EventDate, reg.EventLocation,
		reg.EventLatitude, reg.EventLongitude, reg.Status.String(), reg.RegisteredAt, nullMillis(reg.CompletedAt))
	if err != nil {
		return model.Registration{}, false, model.Unavailable(s.driver+" create", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Registration{}, false, model.Unavailable(s.driver+" create", err)
	}
	if n == 0 {
		cur, err := s.Get(ctx, reg.UserID, reg.EventID)
		if err != nil {
			return model.Registration{}, false, err
		}
		return cur, false, nil
	}
	s.notify(ctx, reg.UserID)
	return reg, true, nil
}

func (s *sqlStore) CompareAndSetStatus(ctx context.Context, userID, eventID string, from, to model.Status, at int64) (model.Registration, bool, error) {
	var (
		res sql.Result
		err error
	)
	if to == model.StatusCompleted {
		res, err = s.db.ExecContext(ctx,
			s.q(`UPDATE registrations SET status = ?, completed_at = ? WHERE user_id = ? AND event_id = ? AND status = ?`),
			to.String(), at, userID, eventID, from.String())
	} else {
		res, err = s.db.ExecContext(ctx,
			s.q(`UPDATE registrations SET status = ? WHERE user_id = ? AND event_id = ? AND status = ?`),
			to.String(), userID, eventID, from.String())
	}
	if err != nil {
		return model.Registration{}, false, model.Unavailable(s.driver+" compare-and-set", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Registration{}, false, model.Unavailable(s.driver+" compare-and-set", err)
	}
	cur, err := s.Get(ctx, userID, eventID)
	if err != nil {
		return model.Registration{}, false, err
	}
	if n == 0 {
		return cur, false, nil
	}
	s.notify(ctx, userID)
	return cur, true, nil
}

func (s *sqlStore) ListByUser(ctx context.Context, userID string) ([]model.Registration, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+columns+` FROM registrations WHERE user_id = ? ORDER BY registered_at DESC, event_id`),
		userID)
	if err != nil {
		return nil, model.Unavailable(s.driver+" list", err)
	}
	defer rows.Close()

	out := make([]model.Registration, 0)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, model.Unavailable(s.driver+" list", err)
		}
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Unavailable(s.driver+" list", err)
	}
	return out, nil
}

func (s *sqlStore) CountByStatus(ctx context.Context, eventID string, status model.Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM registrations WHERE event_id = ? AND status = ?`),
		eventID, status.String()).Scan(&n)
	if err != nil {
		return 0, model.Unavailable(s.driver+" count", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row scanner) (model.Registration, error) {
	var (
		reg       model.Registration
		status    string
		completed sql.NullInt64
	)
	if err := row.Scan(&reg.UserID, &reg.EventID, &reg.UserName, &reg.EventTitle, &reg.EventDate,
		&reg.EventLocation, &reg.EventLatitude, &reg.EventLongitude, &status, &reg.RegisteredAt, &completed); err != nil {
		return model.Registration{}, err
	}
	st, err := model.ParseStatus(status)
	if err != nil {
		return model.Registration{}, err
	}
	reg.Status = st
	if completed.Valid {
		ts := completed.Int64
		reg.CompletedAt = &ts
	}
	return reg, nil
}

func nullMillis(ts *int64) sql.NullInt64 {
	if ts == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ts, Valid: true}
}
