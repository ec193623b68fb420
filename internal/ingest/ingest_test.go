package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/testutil"
	"github.com/nhle/inbox-triage/internal/textract"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeMailbox struct {
	mu        sync.Mutex
	msgs      []source.RawMessage
	listErr   error
	attErr    map[string]error
	listCalls int
	from, to  time.Time
}

func (f *fakeMailbox) Provider() source.Provider { return source.ProviderIMAP }
func (f *fakeMailbox) Close() error              { return nil }

func (f *fakeMailbox) ListMessages(_ context.Context, from, to time.Time) ([]source.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.from, f.to = from, to
	return f.msgs, f.listErr
}

func (f *fakeMailbox) AttachmentText(_ context.Context, _ source.RawMessage, att source.Attachment) (string, error) {
	if err := f.attErr[att.Filename]; err != nil {
		return "", err
	}
	return textract.Extract(att.MIMEType, att.Filename, att.Content)
}

type fakeClaims struct {
	mu       sync.Mutex
	taken    map[string]bool
	released []string
}

func (f *fakeClaims) Claim(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taken[id] {
		return false, nil
	}
	f.taken[id] = true
	return true, nil
}

func (f *fakeClaims) Release(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.taken, id)
	f.released = append(f.released, id)
	return nil
}

func raw(id, subject, body string) source.RawMessage {
	return source.RawMessage{
		ExternalID: id,
		Sender:     "sender@example.com",
		Subject:    subject,
		ReceivedAt: now.Add(-time.Hour),
		TextBody:   body,
	}
}

func TestIngestInsertsAndSkipsDuplicates(t *testing.T) {
	st := testutil.NewTestStore(t)
	mb := &fakeMailbox{msgs: []source.RawMessage{
		raw("<1@x>", "one", "first   body"),
		raw("<2@x>", "two", ""),
	}}
	mb.msgs[1].HTMLBody = "<p>html <b>only</b></p>"

	c := New(st, mb, Options{Workers: 2, Logger: zaptest.NewLogger(t), Now: func() time.Time { return now }})

	counts, err := c.Ingest(context.Background(), source.Lookback(7))
	require.NoError(t, err)
	assert.Equal(t, Counts{Fetched: 2, Inserted: 2}, counts)
	assert.Equal(t, now.AddDate(0, 0, -7), mb.from)
	assert.Equal(t, now, mb.to)

	msg, err := st.GetMessageByExternalID(context.Background(), "<2@x>")
	require.NoError(t, err)
	assert.Equal(t, "html only", msg.Body)

	msg, err = st.GetMessageByExternalID(context.Background(), "<1@x>")
	require.NoError(t, err)
	assert.Equal(t, "first body", msg.Body)
	assert.Nil(t, msg.AttachmentText)

	// A second pass over the same window writes nothing.
	counts, err = c.Ingest(context.Background(), source.Lookback(7))
	require.NoError(t, err)
	assert.Equal(t, Counts{Fetched: 2, SkippedDuplicate: 2}, counts)

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Messages)
}

func TestIngestCountsPerMessageFailures(t *testing.T) {
	st := testutil.NewTestStore(t)

	broken := raw("<bad@x>", "bad", "")
	broken.Err = errors.New("fetch failed")

	noID := raw("", "no id", "body")

	withAttachment := raw("<att@x>", "cv", "see attached")
	withAttachment.Attachments = []source.Attachment{
		{Filename: "cv.txt", MIMEType: "text/plain", Content: []byte("IT Project manager")},
		{Filename: "logo.png", MIMEType: "image/png", Content: []byte{0x89}},
	}

	failingAttachment := raw("<fail@x>", "fail", "body")
	failingAttachment.Attachments = []source.Attachment{{Filename: "corrupt.pdf", MIMEType: "application/pdf"}}

	mb := &fakeMailbox{
		msgs:   []source.RawMessage{broken, noID, withAttachment, failingAttachment, raw("<ok@x>", "ok", "fine")},
		attErr: map[string]error{"corrupt.pdf": errors.New("bad xref")},
	}
	c := New(st, mb, Options{Logger: zaptest.NewLogger(t), Now: func() time.Time { return now }})

	counts, err := c.Ingest(context.Background(), source.Lookback(1))
	require.NoError(t, err)
	assert.Equal(t, Counts{Fetched: 5, Inserted: 2, Failed: 3}, counts)

	msg, err := st.GetMessageByExternalID(context.Background(), "<att@x>")
	require.NoError(t, err)
	require.NotNil(t, msg.AttachmentText)
	assert.Equal(t, "IT Project manager", *msg.AttachmentText)
	assert.Equal(t, 2, msg.AttachmentCount)

	exists, err := st.MessageExists(context.Background(), "<fail@x>")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIngestHonorsClaims(t *testing.T) {
	st := testutil.NewTestStore(t)
	claims := &fakeClaims{taken: map[string]bool{"<busy@x>": true}}

	failing := raw("<fail@x>", "fail", "")
	failing.Attachments = []source.Attachment{{Filename: "x.pdf", MIMEType: "application/pdf"}}

	mb := &fakeMailbox{
		msgs:   []source.RawMessage{raw("<busy@x>", "busy", ""), raw("<free@x>", "free", ""), failing},
		attErr: map[string]error{"x.pdf": errors.New("boom")},
	}
	c := New(st, mb, Options{Claims: claims, Now: func() time.Time { return now }})

	counts, err := c.Ingest(context.Background(), source.Lookback(1))
	require.NoError(t, err)
	assert.Equal(t, Counts{Fetched: 3, Inserted: 1, SkippedDuplicate: 1, Failed: 1}, counts)
	assert.Equal(t, []string{"<fail@x>"}, claims.released)
	assert.True(t, claims.taken["<free@x>"])
}

func TestIngestListingFailure(t *testing.T) {
	st := testutil.NewTestStore(t)
	mb := &fakeMailbox{listErr: &source.AuthError{Provider: source.ProviderIMAP, Message: "denied"}}

	_, err := New(st, mb, Options{}).Ingest(context.Background(), source.Lookback(1))
	require.Error(t, err)
	assert.True(t, source.IsAuthError(err))
}

func TestIngestInvalidWindow(t *testing.T) {
	st := testutil.NewTestStore(t)
	mb := &fakeMailbox{}

	_, err := New(st, mb, Options{}).Ingest(context.Background(), source.Window{})
	assert.ErrorIs(t, err, source.ErrInvalidWindow)
	assert.Zero(t, mb.listCalls)
}

func TestIngestCancelled(t *testing.T) {
	st := testutil.NewTestStore(t)
	mb := &fakeMailbox{msgs: []source.RawMessage{raw("<1@x>", "one", "")}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(st, mb, Options{}).Ingest(ctx, source.Lookback(1))
	assert.ErrorIs(t, err, context.Canceled)
}
