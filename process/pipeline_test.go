package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ewintr.nl/ytsum/model"
	"ewintr.nl/ytsum/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type fakeResolver struct {
	refs map[model.YoutubeChannelID][]model.VideoRef
	errs map[model.YoutubeChannelID]error
}

func (f *fakeResolver) ListRecentVideos(ctx context.Context, channelID model.YoutubeChannelID, since time.Time, max int) ([]model.VideoRef, error) {
	if err := f.errs[channelID]; err != nil {
		return nil, err
	}
	return f.refs[channelID], nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	results map[model.YoutubeVideoID]model.TranscriptResult
	errs    map[model.YoutubeVideoID]error
	calls   []model.YoutubeVideoID
}

func (f *fakeFetcher) Fetch(ctx context.Context, videoID model.YoutubeVideoID) (model.TranscriptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, videoID)
	if err := f.errs[videoID]; err != nil {
		return model.TranscriptResult{Status: model.TranscriptError}, err
	}
	if res, ok := f.results[videoID]; ok {
		return res, nil
	}
	return model.TranscriptResult{Status: model.TranscriptSuccess, Text: "transcript of " + string(videoID), Language: "en"}, nil
}

type fakeSummarizer struct {
	mu    sync.Mutex
	block map[string]bool
	err   error
	calls []string
}

func (f *fakeSummarizer) Model() string { return "test-model" }

func (f *fakeSummarizer) Summarize(ctx context.Context, title, transcript string, maxLength, maxKeyPoints int) (model.SummaryResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, title)
	block, err := f.block[title], f.err
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return model.SummaryResult{}, ctx.Err()
	}
	if err != nil {
		return model.SummaryResult{}, err
	}
	return model.SummaryResult{Text: "summary of " + title, KeyPoints: []string{"point"}}, nil
}

type fakeIndex struct {
	saved []uuid.UUID
}

func (f *fakeIndex) Save(ctx context.Context, video *model.Video, summary *model.Summary) error {
	f.saved = append(f.saved, video.ID)
	return nil
}

type testPipeline struct {
	*Pipeline
	store      *storage.SQL
	resolver   *fakeResolver
	fetcher    *fakeFetcher
	summarizer *fakeSummarizer
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver := &fakeResolver{refs: map[model.YoutubeChannelID][]model.VideoRef{}, errs: map[model.YoutubeChannelID]error{}}
	fetcher := &fakeFetcher{results: map[model.YoutubeVideoID]model.TranscriptResult{}, errs: map[model.YoutubeVideoID]error{}}
	summarizer := &fakeSummarizer{block: map[string]bool{}}
	config := DefaultConfig()
	config.Recipients = []string{"1234"}
	config.RequestTimeout = time.Second

	p := NewPipeline(store, resolver, fetcher, summarizer, config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return now }

	return &testPipeline{Pipeline: p, store: store, resolver: resolver, fetcher: fetcher, summarizer: summarizer}
}

func (tp *testPipeline) follow(t *testing.T, ytID model.YoutubeChannelID, refs ...model.VideoRef) *model.Channel {
	t.Helper()
	ch := &model.Channel{
		ID:               uuid.New(),
		UserID:           "default",
		YoutubeChannelID: ytID,
		Title:            "Channel " + string(ytID),
		URL:              model.ChannelURL(ytID),
		FollowedAt:       now.Add(-time.Hour),
	}
	require.NoError(t, tp.store.AddChannel(context.Background(), ch))
	tp.resolver.refs[ytID] = refs

	return ch
}

func ref(id string) model.VideoRef {
	return model.VideoRef{YoutubeID: model.YoutubeVideoID(id), Title: "title " + id, Duration: "PT4M13S", PublishedAt: now.Add(-time.Hour)}
}

func TestPipelineRunOnce(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t)
	index := &fakeIndex{}
	tp.WithIndex(index)
	tp.follow(t, "UCa", ref("a1"), ref("a2"))
	tp.follow(t, "UCbb", ref("b1"))

	run, err := tp.RunOnce(ctx, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, run.Status)
	assert.Equal(t, model.TriggerManual, run.Trigger)
	assert.Equal(t, 2, run.ChannelsChecked)
	assert.Equal(t, 3, run.VideosDiscovered)
	assert.Equal(t, 3, run.TranscriptsFetched)
	assert.Equal(t, 3, run.SummariesCreated)
	assert.Equal(t, 0, run.Errors)
	assert.Equal(t, now, run.FinishedAt)
	assert.Len(t, index.saved, 3)

	stored, err := tp.store.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, stored.Status)

	_, locked, err := tp.store.CurrentRunLock(ctx)
	require.NoError(t, err)
	assert.False(t, locked)

	depth, err := tp.store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	v, err := tp.store.Video(ctx, "a1")
	require.NoError(t, err)
	summary, err := tp.store.Summary(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "summary of title a1", summary.Text)
	assert.Equal(t, "test-model", summary.Model)
}

func TestPipelineIdempotent(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t)
	tp.follow(t, "UCa", ref("a1"), ref("a2"))

	_, err := tp.RunOnce(ctx, model.TriggerScheduled)
	require.NoError(t, err)
	first, err := tp.store.Stats(ctx)
	require.NoError(t, err)

	run, err := tp.RunOnce(ctx, model.TriggerScheduled)
	require.NoError(t, err)
	second, err := tp.store.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, model.RunSuccess, run.Status)
	assert.Equal(t, 0, run.VideosDiscovered)
	assert.Equal(t, 0, run.SummariesCreated)
	assert.Equal(t, first.Videos, second.Videos)
	assert.Equal(t, first.Transcripts, second.Transcripts)
	assert.Equal(t, first.Summaries, second.Summaries)
	assert.Len(t, tp.summarizer.calls, 2)
	assert.Len(t, tp.fetcher.calls, 2)

	depth, err := tp.store.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestPipelineKnownVideo(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t)
	ch := tp.follow(t, "UCa", ref("a1"), ref("a2"), ref("a3"))

	known, err := tp.store.AddVideos(ctx, ch, []model.VideoRef{ref("a2")}, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, known, 1)
	require.NoError(t, tp.store.SaveTranscript(ctx, &model.Transcript{
		VideoID: known[0].ID, Status: model.TranscriptSuccess, Text: "old", Attempts: 1, FetchedAt: now, UpdatedAt: now,
	}))

	run, err := tp.RunOnce(ctx, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, run.VideosDiscovered)

	stats, err := tp.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Videos)
	assert.ElementsMatch(t, []model.YoutubeVideoID{"a1", "a3"}, tp.fetcher.calls)
}

func TestPipelineTranscriptUnavailable(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t)
	tp.follow(t, "UCa", ref("a1"), ref("a2"))
	tp.fetcher.results["a1"] = model.TranscriptResult{Status: model.TranscriptUnavailable}

	for i := 0; i < 2; i++ {
		run, err := tp.RunOnce(ctx, model.TriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, model.RunSuccess, run.Status)
		assert.Equal(t, 0, run.Errors)
	}

	v, err := tp.store.Video(ctx, "a1")
	require.NoError(t, err)
	tr, err := tp.store.Transcript(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TranscriptUnavailable, tr.Status)
	assert.Equal(t, 1, tr.Attempts)
	_, err = tp.store.Summary(ctx, v.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, []string{"title a2"}, tp.summarizer.calls)
	assert.Len(t, tp.fetcher.calls, 2)
}

func TestPipelineTranscriptError(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t)
	tp.follow(t, "UCa", ref("a1"))
	tp.fetcher.errs["a1"] = errors.New("connection reset")
	tp.config.MaxTranscriptAttempts = 2

	for i := 0; i < 3; i++ {
		run, err := tp.RunOnce(ctx, model.TriggerScheduled)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, model.RunPartial, run.Status)
			assert.Equal(t, 1, run.Errors)
			require.Len(t, run.ErrorDetail, 1)
			assert.Equal(t, "transient: transcript a1: connection reset", run.ErrorDetail[0])
			continue
		}
		assert.Equal(t, model.RunSuccess, run.Status)
	}

	v, err := tp.store.Video(ctx, "a1")
	require.NoError(t, err)
	tr, err := tp.store.Transcript(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TranscriptError, tr.Status)
	assert.Equal(t, 2, tr.Attempts)
	assert.Equal(t, "connection reset", tr.LastError)
	assert.Len(t, tp.fetcher.calls, 2)
}

func TestPipelineTranscriptErrorStatus(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t)
	tp.follow(t, "UCa", ref("a1"))
	tp.fetcher.results["a1"] = model.TranscriptResult{Status: model.TranscriptError}

	run, err := tp.RunOnce(ctx, model.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, model.RunPartial, run.Status)
	assert.Equal(t, 1, run.Errors)
	require.Len(t, run.ErrorDetail, 1)
	assert.Contains(t, run.ErrorDetail[0], "transient: transcript a1:")

	v, err := tp.store.Video(ctx, "a1")
	require.NoError(t, err)
	tr, err := tp.store.Transcript(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TranscriptError, tr.Status)
	assert.NotEmpty(t, tr.LastError)

	delete(tp.fetcher.results, "a1")
	run, err = tp.RunOnce(ctx, model.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, run.Status)
	assert.Equal(t, []model.YoutubeVideoID{"a1", "a1"}, tp.fetcher.calls)
	assert.Equal(t, []string{"title a1"}, tp.summarizer.calls)
}

func TestPipelineSummaryTimeoutThenSuccess(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t)
	tp.follow(t, "UCa", ref("a1"))
	tp.config.RequestTimeout = 20 * time.Millisecond
	tp.summarizer.block["title a1"] = true

	run1, err := tp.RunOnce(ctx, model.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, model.RunPartial, run1.Status)
	assert.Equal(t, 1, run1.Errors)
	assert.Equal(t, 0, run1.SummariesCreated)

	tp.summarizer.mu.Lock()
	tp.summarizer.block["title a1"] = false
	tp.summarizer.mu.Unlock()

	run2, err := tp.RunOnce(ctx, model.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, run2.Status)
	assert.Equal(t, 1, run2.SummariesCreated)

	v, err := tp.store.Video(ctx, "a1")
	require.NoError(t, err)
	_, err = tp.store.Summary(ctx, v.ID)
	require.NoError(t, err)

	pending, err := tp.store.Deliverable(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, v.ID, pending[0].VideoID)
	assert.Equal(t, "1234", pending[0].Recipient)
}

func TestPipelineChannelFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("one channel fails", func(t *testing.T) {
		tp := newTestPipeline(t)
		tp.follow(t, "UCa", ref("a1"))
		tp.follow(t, "UCbb", ref("b1"))
		tp.resolver.errs["UCa"] = model.ErrUnavailable

		run, err := tp.RunOnce(ctx, model.TriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, model.RunPartial, run.Status)
		assert.Equal(t, 1, run.ChannelsChecked)
		assert.Equal(t, 1, run.SummariesCreated)
		assert.Equal(t, []string{"transient: channel UCa: service unavailable"}, run.ErrorDetail)
	})

	t.Run("all channels fail", func(t *testing.T) {
		tp := newTestPipeline(t)
		tp.follow(t, "UCa", ref("a1"))
		tp.resolver.errs["UCa"] = model.ErrQuotaExceeded

		run, err := tp.RunOnce(ctx, model.TriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, model.RunFailed, run.Status)
		assert.Equal(t, 1, run.Errors)
	})

	t.Run("configuration error aborts", func(t *testing.T) {
		tp := newTestPipeline(t)
		tp.follow(t, "UCa", ref("a1"))
		tp.follow(t, "UCbb", ref("b1"))
		tp.resolver.errs["UCa"] = model.ErrConfiguration

		run, err := tp.RunOnce(ctx, model.TriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, model.RunFailed, run.Status)
		assert.Equal(t, 0, run.ChannelsChecked)
		assert.Empty(t, tp.fetcher.calls)
	})
}

func TestPipelineMissingCollaborator(t *testing.T) {
	tp := newTestPipeline(t)
	tp.Pipeline.summarizer = nil

	run, err := tp.RunOnce(context.Background(), model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, run.Status)
	require.Len(t, run.ErrorDetail, 1)
	assert.Contains(t, run.ErrorDetail[0], "configuration: run: no summarizer")
}

func TestPipelineRunLock(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t)

	first, err := tp.Start(ctx, model.TriggerScheduled)
	require.NoError(t, err)

	active, err := tp.Start(ctx, model.TriggerManual)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, first.ID, active.ID)

	runs, err := tp.store.Runs(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	tp.Process(ctx, first)
	_, err = tp.RunOnce(ctx, model.TriggerManual)
	require.NoError(t, err)
}

func TestPipelineTakesOverCrashedRun(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(t)

	crashed, err := tp.Start(ctx, model.TriggerScheduled)
	require.NoError(t, err)

	tp.now = func() time.Time { return now.Add(2 * time.Hour) }
	run, err := tp.RunOnce(ctx, model.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, run.Status)

	got, err := tp.store.Run(ctx, crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, got.Status)
	assert.Equal(t, []string{"transient: run: interrupted"}, got.ErrorDetail)
	inProgress, err := tp.store.InProgressRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, inProgress)
}

func TestPipelineCancelled(t *testing.T) {
	tp := newTestPipeline(t)
	tp.follow(t, "UCa", ref("a1"))
	ctx, cancel := context.WithCancel(context.Background())

	run, err := tp.Start(ctx, model.TriggerScheduled)
	require.NoError(t, err)
	cancel()
	tp.Process(ctx, run)

	stored, err := tp.store.Run(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, stored.Status)
	assert.False(t, stored.FinishedAt.IsZero())
}
