package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"ewintr.nl/ytsum/model"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQL {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addChannel(t *testing.T, s *SQL, ytID string, followedAt time.Time) *model.Channel {
	t.Helper()
	ch := &model.Channel{
		ID:               uuid.New(),
		UserID:           "default",
		YoutubeChannelID: model.YoutubeChannelID(ytID),
		Title:            "channel " + ytID,
		URL:              model.ChannelURL(model.YoutubeChannelID(ytID)),
		FollowedAt:       followedAt,
	}
	require.NoError(t, s.AddChannel(context.Background(), ch))
	return ch
}

func refs(ids ...string) []model.VideoRef {
	out := []model.VideoRef{}
	for i, id := range ids {
		out = append(out, model.VideoRef{
			YoutubeID:   model.YoutubeVideoID(id),
			Title:       "video " + id,
			PublishedAt: now.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	return out
}

func TestCompareMigrations(t *testing.T) {
	for _, tc := range []struct {
		name     string
		wanted   []string
		existing []string
		exp      []string
		expErr   bool
	}{
		{name: "empty", wanted: []string{}, existing: []string{}, exp: []string{}},
		{name: "fresh", wanted: []string{"a", "b"}, existing: []string{}, exp: []string{"a", "b"}},
		{name: "partial", wanted: []string{"a", "b"}, existing: []string{"a"}, exp: []string{"b"}},
		{name: "too few", wanted: []string{"a"}, existing: []string{"a", "b"}, expErr: true},
		{name: "changed", wanted: []string{"a", "c"}, existing: []string{"a", "b"}, expErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			act, err := compareMigrations(tc.wanted, tc.existing)
			if tc.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exp, act)
		})
	}
}

func TestRebind(t *testing.T) {
	s := &SQL{dialect: dialectPostgres}
	assert.Equal(t, "SELECT a FROM b WHERE c = $1 AND d IN ($2, $3)", s.rebind("SELECT a FROM b WHERE c = ? AND d IN (?, ?)"))
	s.dialect = dialectSQLite
	assert.Equal(t, "x = ?", s.rebind("x = ?"))
}

func TestReadRetriesTransientErrors(t *testing.T) {
	errBusy := errors.New("database is locked")
	s := newTestStore(t)
	s.readTries = 3
	s.backOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	s.transient = func(err error) bool { return errors.Is(err, errBusy) }

	for _, tc := range []struct {
		name      string
		failures  int
		fail      error
		wantCalls int
		wantErr   error
	}{
		{name: "recovers", failures: 2, fail: errBusy, wantCalls: 3},
		{name: "gives up", failures: 5, fail: errBusy, wantCalls: 3, wantErr: errBusy},
		{name: "permanent", failures: 5, fail: errors.New("syntax error"), wantCalls: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := s.read(context.Background(), func(context.Context) error {
				calls++
				if calls <= tc.failures {
					return tc.fail
				}
				return nil
			})
			assert.Equal(t, tc.wantCalls, calls)
			if tc.failures < tc.wantCalls {
				assert.NoError(t, err)
				return
			}
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.ErrorIs(t, err, tc.fail)
		})
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.migrate(sqliteMigration))
}

func TestChannels(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	second := addChannel(t, s, "UCsecond", now)
	first := addChannel(t, s, "UCfirst", now.Add(-time.Hour))

	t.Run("creation order", func(t *testing.T) {
		channels, err := s.Channels(ctx)
		require.NoError(t, err)
		require.Len(t, channels, 2)
		assert.Equal(t, first.ID, channels[0].ID)
		assert.Equal(t, second.ID, channels[1].ID)
		assert.True(t, channels[0].LastCheckedAt.IsZero())
	})

	t.Run("unique per user", func(t *testing.T) {
		dup := *first
		dup.ID = uuid.New()
		err := s.AddChannel(ctx, &dup)
		assert.ErrorIs(t, err, model.ErrIntegrity)

		other := dup
		other.UserID = "someone else"
		assert.NoError(t, s.AddChannel(ctx, &other))
		require.NoError(t, s.RemoveChannel(ctx, other.ID))
	})

	t.Run("touch", func(t *testing.T) {
		require.NoError(t, s.TouchChannel(ctx, first.ID, now))
		ch, err := s.Channel(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, now.Equal(ch.LastCheckedAt))
	})

	t.Run("remove keeps videos", func(t *testing.T) {
		added, err := s.AddVideos(ctx, second, refs("v1"), now)
		require.NoError(t, err)
		require.Len(t, added, 1)

		require.NoError(t, s.RemoveChannel(ctx, second.ID))
		assert.ErrorIs(t, s.RemoveChannel(ctx, second.ID), model.ErrNotFound)

		video, err := s.Video(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, uuid.Nil, video.ChannelID)
		assert.Equal(t, model.YoutubeChannelID("UCsecond"), video.YoutubeChannelID)

		_, err = s.Channel(ctx, second.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestAddVideosDedups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := addChannel(t, s, "UCa", now)

	added, err := s.AddVideos(ctx, ch, refs("v1", "v2"), now)
	require.NoError(t, err)
	assert.Len(t, added, 2)

	added, err = s.AddVideos(ctx, ch, refs("v2", "v3", ""), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, model.YoutubeVideoID("v3"), added[0].YoutubeID)
	assert.Equal(t, "https://www.youtube.com/watch?v=v3", added[0].URL)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Videos)

	pending, err := s.PendingTranscripts(ctx, 10, 50)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for _, p := range pending {
		assert.Equal(t, model.TranscriptPending, p.Transcript.Status)
	}
	assert.Equal(t, model.YoutubeVideoID("v1"), pending[0].Video.YoutubeID)
	assert.Equal(t, model.YoutubeVideoID("v3"), pending[2].Video.YoutubeID)
}

func TestTranscriptLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := addChannel(t, s, "UCa", now)
	added, err := s.AddVideos(ctx, ch, refs("ok", "gone", "flaky"), now)
	require.NoError(t, err)
	ok, gone, flaky := added[0], added[1], added[2]

	require.NoError(t, s.SaveTranscript(ctx, &model.Transcript{VideoID: ok.ID, Status: model.TranscriptSuccess, Text: "hello", Language: "en", Attempts: 1, FetchedAt: now, UpdatedAt: now}))
	require.NoError(t, s.SaveTranscript(ctx, &model.Transcript{VideoID: gone.ID, Status: model.TranscriptUnavailable, Attempts: 1, UpdatedAt: now}))
	require.NoError(t, s.SaveTranscript(ctx, &model.Transcript{VideoID: flaky.ID, Status: model.TranscriptError, Attempts: 2, LastError: "timeout", UpdatedAt: now}))

	tr, err := s.Transcript(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", tr.Text)
	assert.True(t, now.Equal(tr.FetchedAt))

	t.Run("retry bound", func(t *testing.T) {
		pending, err := s.PendingTranscripts(ctx, 3, 50)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, flaky.ID, pending[0].Video.ID)
		assert.Equal(t, 2, pending[0].Transcript.Attempts)

		pending, err = s.PendingTranscripts(ctx, 2, 50)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("summarizable", func(t *testing.T) {
		todo, err := s.Summarizable(ctx, 30)
		require.NoError(t, err)
		require.Len(t, todo, 1)
		assert.Equal(t, ok.ID, todo[0].Video.ID)
		assert.Equal(t, "hello", todo[0].TranscriptText)
		assert.Equal(t, "channel UCa", todo[0].ChannelTitle)
	})

	t.Run("summary needs successful transcript", func(t *testing.T) {
		err := s.AddSummary(ctx, &model.Summary{VideoID: gone.ID, Text: "x", Model: "m", CreatedAt: now}, nil)
		assert.ErrorIs(t, err, model.ErrIntegrity)
	})

	t.Run("summary with notifications", func(t *testing.T) {
		n := &model.Notification{Recipient: "42", Payload: "new summary", VideoID: ok.ID, CreatedAt: now}
		require.NoError(t, s.AddSummary(ctx, &model.Summary{VideoID: ok.ID, Text: "sum", KeyPoints: []string{"a", "b"}, Model: "m", CreatedAt: now}, []*model.Notification{n}))
		assert.NotZero(t, n.ID)

		sum, err := s.Summary(ctx, ok.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, sum.KeyPoints)

		todo, err := s.Summarizable(ctx, 30)
		require.NoError(t, err)
		assert.Empty(t, todo)

		err = s.AddSummary(ctx, &model.Summary{VideoID: ok.ID, Text: "again", Model: "m", CreatedAt: now}, nil)
		assert.ErrorIs(t, err, model.ErrIntegrity)

		depth, err := s.QueueDepth(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, depth)
	})
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	older := &model.Run{ID: uuid.New(), Trigger: model.TriggerScheduled, Status: model.RunInProgress, StartedAt: now.Add(-time.Hour)}
	newer := &model.Run{ID: uuid.New(), Trigger: model.TriggerManual, Status: model.RunInProgress, StartedAt: now}
	require.NoError(t, s.StartRun(ctx, older))
	require.NoError(t, s.StartRun(ctx, newer))

	older.Status = model.RunPartial
	older.FinishedAt = now.Add(-50 * time.Minute)
	older.ChannelsChecked = 2
	older.Errors = 1
	older.ErrorDetail = []string{"transient: channel UCa: boom"}
	require.NoError(t, s.FinishRun(ctx, older))

	runs, err := s.Runs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, model.RunPartial, runs[1].Status)
	assert.Equal(t, older.ErrorDetail, runs[1].ErrorDetail)
	assert.Equal(t, 2, runs[1].ChannelsChecked)

	runs, err = s.Runs(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, older.ID, runs[0].ID)

	inProgress, err := s.InProgressRuns(ctx)
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, newer.ID, inProgress[0].ID)

	missing := &model.Run{ID: uuid.New(), Status: model.RunFailed}
	assert.ErrorIs(t, s.FinishRun(ctx, missing), model.ErrNotFound)
}

func TestRunLock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := model.RunLock{RunID: uuid.New(), Owner: "host:1", AcquiredAt: now}
	require.NoError(t, s.StartRun(ctx, &model.Run{ID: first.RunID, Trigger: model.TriggerScheduled, Status: model.RunInProgress, StartedAt: now}))

	holder, err := s.AcquireRunLock(ctx, first, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.RunID, holder.RunID)

	second := model.RunLock{RunID: uuid.New(), Owner: "host:2", AcquiredAt: now.Add(time.Minute)}
	holder, err = s.AcquireRunLock(ctx, second, now.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrRunLocked)
	assert.Equal(t, first.RunID, holder.RunID)

	t.Run("stale lock is taken over", func(t *testing.T) {
		holder, err := s.AcquireRunLock(ctx, second, now.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, second.RunID, holder.RunID)

		crashed, err := s.Run(ctx, first.RunID)
		require.NoError(t, err)
		assert.Equal(t, model.RunFailed, crashed.Status)
		assert.True(t, second.AcquiredAt.Equal(crashed.FinishedAt))
		assert.Equal(t, 1, crashed.Errors)
		assert.Equal(t, []string{"transient: run: interrupted"}, crashed.ErrorDetail)

		inProgress, err := s.InProgressRuns(ctx)
		require.NoError(t, err)
		assert.Empty(t, inProgress)
	})

	t.Run("release only by owner", func(t *testing.T) {
		require.NoError(t, s.ReleaseRunLock(ctx, first.RunID))
		_, found, err := s.CurrentRunLock(ctx)
		require.NoError(t, err)
		assert.True(t, found)

		require.NoError(t, s.ReleaseRunLock(ctx, second.RunID))
		_, found, err = s.CurrentRunLock(ctx)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestQueue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i, r := range []string{"a", "b", "c"} {
		require.NoError(t, s.Enqueue(ctx, &model.Notification{Recipient: r, Payload: "p", CreatedAt: now.Add(time.Duration(i) * time.Second)}))
	}

	list, err := s.Deliverable(ctx, 3, 50)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Recipient)
	assert.Equal(t, "c", list[2].Recipient)
	a, b := list[0], list[1]

	t.Run("sent is terminal", func(t *testing.T) {
		require.NoError(t, s.MarkSent(ctx, a.ID, now))
		status, err := s.MarkFailed(ctx, a.ID, "late failure", 3, now)
		require.NoError(t, err)
		assert.Equal(t, model.NotificationSent, status)

		n, err := s.Notification(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, n.RetryCount)
		assert.True(t, now.Equal(n.SentAt))
	})

	t.Run("retries are bounded", func(t *testing.T) {
		for i, exp := range []model.NotificationStatus{model.NotificationPending, model.NotificationPending, model.NotificationFailed, model.NotificationFailed} {
			status, err := s.MarkFailed(ctx, b.ID, "boom", 3, now)
			require.NoError(t, err)
			assert.Equal(t, exp, status, "attempt %d", i+1)
		}
		n, err := s.Notification(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, n.RetryCount)
		assert.Equal(t, "boom", n.LastError)
	})

	list, err = s.Deliverable(ctx, 3, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].Recipient)

	depth, err := s.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	pruned, err := s.PruneSent(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	_, err = s.Notification(ctx, a.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
