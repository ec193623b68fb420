package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/inbox-triage/internal/model"
)

// ListOverviews joins each message in the filter window with its latest
// assignment, the most recent action for that assignment, and its review.
// Results are ordered by received_at, newest first.
func (s *SQLiteStore) ListOverviews(ctx context.Context, filter OverviewFilter) ([]model.MessageOverview, error) {
	var conditions []string
	var args []interface{}

	if filter.Since != nil {
		conditions = append(conditions, "received_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		conditions = append(conditions, "received_at <= ?")
		args = append(args, filter.Until.UTC())
	}

	query := "SELECT " + messageColumns + " FROM messages"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY received_at DESC, rowid DESC"

	var msgs []model.Message
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}

	latest, err := s.latestByMessage(ctx, ids)
	if err != nil {
		return nil, err
	}

	assignmentIDs := make([]string, 0, len(latest))
	for _, a := range latest {
		assignmentIDs = append(assignmentIDs, a.ID)
	}
	actions, err := s.actionsByAssignment(ctx, assignmentIDs)
	if err != nil {
		return nil, err
	}
	reviews, err := s.reviewsByAssignment(ctx, assignmentIDs)
	if err != nil {
		return nil, err
	}

	var out []model.MessageOverview
	for _, m := range msgs {
		o := model.MessageOverview{Message: m}
		if a, ok := latest[m.ID]; ok {
			a := a
			o.Assignment = &a
			if r, ok := actions[a.ID]; ok {
				r := r
				o.Action = &r
			}
			if r, ok := reviews[a.ID]; ok {
				r := r
				o.Review = &r
			}
		}

		if (filter.Classified || filter.Pair != nil) && o.Assignment == nil {
			continue
		}
		if filter.Pair != nil && o.Assignment.Pair() != *filter.Pair {
			continue
		}
		if filter.Unreviewed && (o.Assignment == nil || o.Review != nil) {
			continue
		}

		out = append(out, o)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// maxInArgs caps the bind variables per IN query. SQLite rejects
// statements with more than 32766.
var maxInArgs = 500

// selectIn runs query once per chunk of ids, replacing its single IN (?)
// placeholder, and hands every row to each.
func selectIn[T any](ctx context.Context, db *sqlx.DB, query string, ids []string, each func(T)) error {
	for start := 0; start < len(ids); start += maxInArgs {
		end := min(start+maxInArgs, len(ids))

		q, args, err := sqlx.In(query, ids[start:end])
		if err != nil {
			return err
		}
		var rows []T
		if err := db.SelectContext(ctx, &rows, db.Rebind(q), args...); err != nil {
			return err
		}
		for _, r := range rows {
			each(r)
		}
	}
	return nil
}

// latestByMessage returns the latest assignment of each given message.
func (s *SQLiteStore) latestByMessage(ctx context.Context, messageIDs []string) (map[string]model.CategoryAssignment, error) {
	out := make(map[string]model.CategoryAssignment, len(messageIDs))
	err := selectIn(ctx, s.db,
		"SELECT "+assignmentColumns+" FROM ("+latestAssignmentsQuery+") WHERE message_id IN (?)",
		messageIDs,
		func(a model.CategoryAssignment) { out[a.MessageID] = a },
	)
	if err != nil {
		return nil, fmt.Errorf("loading latest assignments: %w", err)
	}
	return out, nil
}

// actionsByAssignment returns the newest action record per assignment.
// Each assignment lands in exactly one chunk, so ascending order within
// the chunk is enough for later rows to overwrite earlier ones.
func (s *SQLiteStore) actionsByAssignment(ctx context.Context, assignmentIDs []string) (map[string]model.ActionRecord, error) {
	out := make(map[string]model.ActionRecord, len(assignmentIDs))
	err := selectIn(ctx, s.db,
		"SELECT "+actionColumns+" FROM action_records WHERE assignment_id IN (?) ORDER BY created_at ASC, rowid ASC",
		assignmentIDs,
		func(r model.ActionRecord) { out[r.AssignmentID] = r },
	)
	if err != nil {
		return nil, fmt.Errorf("loading actions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) reviewsByAssignment(ctx context.Context, assignmentIDs []string) (map[string]model.ReviewRecord, error) {
	out := make(map[string]model.ReviewRecord, len(assignmentIDs))
	err := selectIn(ctx, s.db,
		"SELECT "+reviewColumns+" FROM review_records WHERE assignment_id IN (?)",
		assignmentIDs,
		func(r model.ReviewRecord) { out[r.AssignmentID] = r },
	)
	if err != nil {
		return nil, fmt.Errorf("loading reviews: %w", err)
	}
	return out, nil
}
