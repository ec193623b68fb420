// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err, "creating test store")

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// BaseTime is the fixed reference time used by fixtures.
var BaseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// NewMessage builds a message with a deterministic external ID derived from n.
func NewMessage(n int, sender, subject, body string) *model.Message {
	return &model.Message{
		ExternalID: fmt.Sprintf("<msg-%d@example.com>", n),
		Sender:     sender,
		Subject:    subject,
		Body:       body,
		ReceivedAt: BaseTime.Add(time.Duration(n) * time.Minute),
	}
}

// InsertMessage stores msg and fails the test on error or duplicate.
func InsertMessage(t *testing.T, s store.Store, msg *model.Message) *model.Message {
	t.Helper()

	inserted, err := s.InsertMessage(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, inserted, "message %s already stored", msg.ExternalID)
	return msg
}

// Assign appends an assignment of pair to the message.
func Assign(t *testing.T, s store.Store, messageID string, pair model.Pair, agent string) *model.CategoryAssignment {
	t.Helper()

	a := &model.CategoryAssignment{
		MessageID:   messageID,
		Category:    pair.Category,
		Subcategory: pair.Subcategory,
		Confidence:  0.9,
		Reasoning:   "fixture",
		Agent:       agent,
	}
	require.NoError(t, s.AppendAssignment(context.Background(), a))
	return a
}

// Taxonomy returns the default taxonomy and fails the test if it is invalid.
func Taxonomy(t *testing.T) *model.Taxonomy {
	t.Helper()

	tax, err := model.NewTaxonomy(model.DefaultTaxonomy())
	require.NoError(t, err)
	return tax
}
