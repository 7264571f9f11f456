package archiver

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/tgarchive/internal/database"
	apperrors "github.com/edgard/tgarchive/internal/errors"
	"github.com/edgard/tgarchive/internal/logger"
	"github.com/edgard/tgarchive/internal/media"
	"github.com/edgard/tgarchive/internal/metrics"
	"github.com/edgard/tgarchive/internal/remote"
	"github.com/edgard/tgarchive/internal/users"
)

type fetchCall struct {
	offset int64
	limit  int
	ids    []int64
}

type fakeSession struct {
	mu       sync.Mutex
	messages []remote.Message
	calls    []fetchCall
	takeouts int
	// onFetch runs before every fetch; a non-nil error is returned instead of a page.
	onFetch func(call int) error
}

func (s *fakeSession) ResolveGroup(_ context.Context, identifier string) (remote.Group, error) {
	if identifier == "missing" {
		return remote.Group{}, apperrors.NewGroupNotFoundError(identifier, nil)
	}
	return remote.Group{ID: 10, Title: identifier}, nil
}

func (s *fakeSession) FetchMessages(_ context.Context, _ remote.Group, offset int64, limit int, ids []int64) ([]remote.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fetchCall{offset: offset, limit: limit, ids: ids})
	if s.onFetch != nil {
		if err := s.onFetch(len(s.calls)); err != nil {
			return nil, err
		}
	}
	var out []remote.Message
	for _, m := range s.messages {
		if len(ids) > 0 {
			if slices.Contains(ids, m.ID) {
				out = append(out, m)
			}
			continue
		}
		if m.ID > offset && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeSession) DownloadFile(context.Context, remote.Message, string) (string, error) {
	return "", errors.New("not used")
}

func (s *fakeSession) DownloadThumb(context.Context, remote.Message, string) (string, error) {
	return "", errors.New("not used")
}

func (s *fakeSession) DownloadAvatar(context.Context, remote.Sender, string) (string, error) {
	return "", nil
}

func (s *fakeSession) Takeout(ctx context.Context, fn func(context.Context, remote.Session) error) error {
	s.mu.Lock()
	s.takeouts++
	s.mu.Unlock()
	return fn(ctx, s)
}

type fakeClient struct {
	session *fakeSession
	runs    int
}

func (c *fakeClient) Run(ctx context.Context, fn func(context.Context, remote.Session) error) error {
	c.runs++
	return fn(ctx, c.session)
}

var alice = &remote.Sender{ID: 1, Username: "alice"}

func history(n int) []remote.Message {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	out := make([]remote.Message, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, remote.Message{
			ID:     int64(i),
			Date:   base.Add(time.Duration(i) * time.Minute),
			Text:   "message",
			Sender: alice,
		})
	}
	return out
}

type harness struct {
	engine  *Engine
	db      *sqlx.DB
	metrics *metrics.Metrics
	sleeps  []time.Duration
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := database.NewDB(filepath.Join(dir, "data.sqlite"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	log := logger.Discard()
	store := database.NewStore(db, log, nil)
	mediaResolver := media.NewResolver(media.Config{MediaDir: dir, TmpDir: dir}, nil, log)
	userResolver := users.NewResolver(users.Config{MediaDir: dir, TmpDir: dir}, nil, log)
	if cfg.Group == "" {
		cfg.Group = "club"
	}

	h := &harness{db: db, metrics: metrics.New()}
	h.engine = New(cfg, store, mediaResolver, userResolver, h.metrics, log)
	h.engine.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

func (h *harness) ids(t *testing.T) []int64 {
	t.Helper()
	var ids []int64
	if err := h.db.Select(&ids, `SELECT id FROM messages ORDER BY id`); err != nil {
		t.Fatal(err)
	}
	return ids
}

func int64Range(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestRunArchivesHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BatchSize: 2, FetchWait: 5 * time.Second})
	s := &fakeSession{messages: history(5)}

	report, err := h.engine.Run(context.Background(), &fakeClient{session: s}, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Messages != 5 || report.LastID != 5 || report.StartID != 0 || report.Mode != ModePlain {
		t.Errorf("report = %+v", report)
	}
	if got := h.ids(t); !slices.Equal(got, int64Range(1, 5)) {
		t.Errorf("stored ids = %v", got)
	}

	var offsets []int64
	for _, c := range s.calls {
		offsets = append(offsets, c.offset)
		if c.limit != 2 {
			t.Errorf("limit = %d, want 2", c.limit)
		}
	}
	if !slices.Equal(offsets, []int64{0, 2, 4, 5}) {
		t.Errorf("fetch offsets = %v", offsets)
	}
	if !slices.Equal(h.sleeps, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}) {
		t.Errorf("sleeps = %v", h.sleeps)
	}
}

func TestRunResumesFromLastMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BatchSize: 100})
	s := &fakeSession{messages: history(3)}
	client := &fakeClient{session: s}

	if _, err := h.engine.Run(context.Background(), client, Options{}); err != nil {
		t.Fatal(err)
	}
	s.messages = history(6)
	s.calls = nil

	report, err := h.engine.Run(context.Background(), client, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.StartID != 3 || report.Messages != 3 || report.LastID != 6 {
		t.Errorf("report = %+v", report)
	}
	if s.calls[0].offset != 3 {
		t.Errorf("first offset = %d, want 3", s.calls[0].offset)
	}
	if got := h.ids(t); !slices.Equal(got, int64Range(1, 6)) {
		t.Errorf("stored ids = %v", got)
	}
}

func TestRunFromID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BatchSize: 100})
	s := &fakeSession{messages: history(5)}
	from := int64(3)

	report, err := h.engine.Run(context.Background(), &fakeClient{session: s}, Options{FromID: &from})
	if err != nil {
		t.Fatal(err)
	}
	if report.StartID != 3 || !slices.Equal(h.ids(t), []int64{4, 5}) {
		t.Errorf("report = %+v, ids = %v", report, h.ids(t))
	}
}

func TestRunExplicitIDs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BatchSize: 2})
	s := &fakeSession{messages: history(10)}

	report, err := h.engine.Run(context.Background(), &fakeClient{session: s}, Options{IDs: []int64{2, 4, 9, 42}})
	if err != nil {
		t.Fatal(err)
	}
	if report.Messages != 3 || !slices.Equal(h.ids(t), []int64{2, 4, 9}) {
		t.Errorf("report = %+v, ids = %v", report, h.ids(t))
	}
	if len(s.calls) != 2 || !slices.Equal(s.calls[0].ids, []int64{2, 4}) || !slices.Equal(s.calls[1].ids, []int64{9, 42}) {
		t.Errorf("calls = %+v", s.calls)
	}
}

func TestRunRejectsIDsWithFromID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	client := &fakeClient{session: &fakeSession{}}
	from := int64(1)

	_, err := h.engine.Run(context.Background(), client, Options{IDs: []int64{1}, FromID: &from})
	if apperrors.Code(err) != apperrors.CodeValidation {
		t.Fatalf("Run() error = %v, want validation error", err)
	}
	if client.runs != 0 {
		t.Errorf("client connected %d times before validation", client.runs)
	}
}

func TestRunSkipsMessagesWithoutSender(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BatchSize: 100})
	msgs := history(3)
	msgs[1].Sender = nil
	s := &fakeSession{messages: msgs}

	report, err := h.engine.Run(context.Background(), &fakeClient{session: s}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Messages != 2 || !slices.Equal(h.ids(t), []int64{1, 3}) {
		t.Errorf("report = %+v, ids = %v", report, h.ids(t))
	}
}

func TestRunStopsAtFetchLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		batchSize int
		wantCalls int
	}{
		{name: "limit inside the second page", batchSize: 2, wantCalls: 2},
		{name: "limit inside the first page", batchSize: 100, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Config{BatchSize: tt.batchSize, FetchLimit: 3})
			s := &fakeSession{messages: history(10)}

			report, err := h.engine.Run(context.Background(), &fakeClient{session: s}, Options{})
			if err != nil {
				t.Fatal(err)
			}
			if report.Messages != 3 || report.LastID != 3 || len(s.calls) != tt.wantCalls {
				t.Errorf("report = %+v, calls = %d", report, len(s.calls))
			}
			if got := h.ids(t); !slices.Equal(got, []int64{1, 2, 3}) {
				t.Errorf("stored ids = %v, want [1 2 3]", got)
			}
		})
	}
}

// countingWriter records how many messages had been written at each commit.
type countingWriter struct {
	database.Writer
	written int
	commits *[]int
}

func (w *countingWriter) UpsertMessage(ctx context.Context, m *database.Message) error {
	w.written++
	return w.Writer.UpsertMessage(ctx, m)
}

func (w *countingWriter) Commit(ctx context.Context) error {
	*w.commits = append(*w.commits, w.written)
	return w.Writer.Commit(ctx)
}

type countingStore struct {
	Store
	commits []int
}

func (s *countingStore) NewWriter() database.Writer {
	return &countingWriter{Writer: s.Store.NewWriter(), commits: &s.commits}
}

func TestRunCommitsEveryCheckpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BatchSize: 100})
	store := &countingStore{Store: h.engine.store}
	h.engine.store = store
	s := &fakeSession{messages: history(650)}

	report, err := h.engine.Run(context.Background(), &fakeClient{session: s}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Messages != 650 {
		t.Fatalf("messages = %d, want 650", report.Messages)
	}
	if !slices.Equal(store.commits, []int{300, 600, 650}) {
		t.Errorf("commits after %v messages, want [300 600 650]", store.commits)
	}
}

func TestRunRepeatedFromSameStartIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BatchSize: 2})
	msgs := history(5)
	msgs[2].Media = remote.WebPage{URL: "https://go.dev", Title: "Go"}
	s := &fakeSession{messages: msgs}
	client := &fakeClient{session: s}
	from := int64(0)

	type snapshot struct {
		Messages int    `db:"messages"`
		Users    int    `db:"users"`
		Media    int    `db:"media"`
		Digest   string `db:"digest"`
	}
	state := func() snapshot {
		t.Helper()
		var snap snapshot
		err := h.db.Get(&snap, `SELECT
			(SELECT COUNT(*) FROM messages) AS messages,
			(SELECT COUNT(*) FROM users) AS users,
			(SELECT COUNT(*) FROM media) AS media,
			(SELECT COALESCE(group_concat(id || ':' || type || ':' || date || ':' || COALESCE(content, '') || ':' || COALESCE(media_id, ''), '|'), '')
			   FROM (SELECT * FROM messages ORDER BY id)) AS digest`)
		if err != nil {
			t.Fatal(err)
		}
		return snap
	}

	if _, err := h.engine.Run(context.Background(), client, Options{FromID: &from}); err != nil {
		t.Fatal(err)
	}
	first := state()
	if _, err := h.engine.Run(context.Background(), client, Options{FromID: &from}); err != nil {
		t.Fatal(err)
	}
	second := state()

	if first != second {
		t.Errorf("store changed on re-run:\nfirst  %+v\nsecond %+v", first, second)
	}
	if first.Messages != 5 || first.Users != 1 || first.Media != 1 {
		t.Errorf("state = %+v", first)
	}
}

func TestRunWaitsOutFloodControl(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BatchSize: 100})
	s := &fakeSession{
		messages: history(2),
		onFetch: func(call int) error {
			if call == 1 {
				return apperrors.NewFloodWaitError(7*time.Second, errors.New("FLOOD_WAIT_7"))
			}
			return nil
		},
	}

	report, err := h.engine.Run(context.Background(), &fakeClient{session: s}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.FloodWaits != 1 || report.Messages != 2 {
		t.Errorf("report = %+v", report)
	}
	if len(h.sleeps) == 0 || h.sleeps[0] != 7*time.Second {
		t.Errorf("sleeps = %v", h.sleeps)
	}
	if s.calls[0].offset != s.calls[1].offset {
		t.Errorf("flood wait did not repeat the page: %+v", s.calls)
	}
}

func TestRunFetchErrorIsReturned(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	boom := errors.New("rpc error")
	s := &fakeSession{onFetch: func(int) error { return boom }}

	if _, err := h.engine.Run(context.Background(), &fakeClient{session: s}, Options{}); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
}

func TestRunGroupNotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Group: "missing"})
	_, err := h.engine.Run(context.Background(), &fakeClient{session: &fakeSession{}}, Options{})
	if apperrors.Code(err) != apperrors.CodeGroupNotFound {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunCancelledCommitsProgress(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{BatchSize: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &fakeSession{
		messages: history(6),
		onFetch: func(call int) error {
			if call == 2 {
				cancel()
			}
			return nil
		},
	}

	report, err := h.engine.Run(ctx, &fakeClient{session: s}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if report.Messages != 2 || !slices.Equal(h.ids(t), []int64{1, 2}) {
		t.Errorf("report = %+v, ids = %v", report, h.ids(t))
	}
}

func TestRunTakeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Mode: ModeTakeout})
	s := &fakeSession{messages: history(2)}

	report, err := h.engine.Run(context.Background(), &fakeClient{session: s}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if s.takeouts != 1 || report.Mode != ModeTakeout || report.Messages != 2 {
		t.Errorf("takeouts = %d, report = %+v", s.takeouts, report)
	}
}

func TestRunStoresContentOverridesAndActions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	msgs := history(3)
	msgs[0].Media = remote.Sticker{Alt: "🔥"}
	msgs[1].Media = remote.WebPage{URL: "https://go.dev", Title: "Go"}
	msgs[2].Action = remote.ActionJoined
	s := &fakeSession{messages: msgs}

	report, err := h.engine.Run(context.Background(), &fakeClient{session: s}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Media != 1 {
		t.Errorf("media = %d, want 1", report.Media)
	}

	var rows []struct {
		ID      int64   `db:"id"`
		Type    string  `db:"type"`
		Content string  `db:"content"`
		MediaID *int64  `db:"media_id"`
		URL     *string `db:"url"`
	}
	err = h.db.Select(&rows, `SELECT m.id, m.type, m.content, m.media_id, md.url
		FROM messages m LEFT JOIN media md ON md.id = m.media_id ORDER BY m.id`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Content != "🔥" || rows[0].MediaID != nil {
		t.Errorf("sticker row = %+v", rows[0])
	}
	if rows[1].MediaID == nil || *rows[1].MediaID != 2 || rows[1].URL == nil || *rows[1].URL != "https://go.dev" {
		t.Errorf("webpage row = %+v", rows[1])
	}
	if rows[2].Type != database.MessageTypeUserJoined {
		t.Errorf("join row = %+v", rows[2])
	}
}

func TestRunLeavesGroupResolutionLogToSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	var buf bytes.Buffer
	h.engine.logger = logger.New(&buf, "debug", false)
	s := &fakeSession{messages: history(1)}

	if _, err := h.engine.Run(context.Background(), &fakeClient{session: s}, Options{}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Resolved group") {
		t.Errorf("engine logged the group resolution:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "Sync complete") {
		t.Errorf("missing completion log:\n%s", buf.String())
	}
}
