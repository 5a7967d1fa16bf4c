package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ewintr.nl/ytsum/model"
	"ewintr.nl/ytsum/storage"
	"github.com/google/uuid"
)

var ErrRunInProgress = errors.New("a run is already in progress")

type ChannelResolver interface {
	ListRecentVideos(ctx context.Context, channelID model.YoutubeChannelID, since time.Time, max int) ([]model.VideoRef, error)
}

type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID model.YoutubeVideoID) (model.TranscriptResult, error)
}

type Summarizer interface {
	Model() string
	Summarize(ctx context.Context, title, transcript string, maxLength, maxKeyPoints int) (model.SummaryResult, error)
}

type Config struct {
	LookBack              time.Duration
	MaxVideosPerChannel   int
	MaxTranscriptAttempts int
	MaxTranscriptsPerRun  int
	MaxSummariesPerRun    int
	SummaryMaxLength      int
	MaxKeyPoints          int
	RequestTimeout        time.Duration
	// LockTimeout is the age after which another process may take over the
	// run lock. Usually one check interval.
	LockTimeout time.Duration
	Owner       string
	Recipients  []string
	SummaryURL  string
}

func DefaultConfig() Config {
	return Config{
		LookBack:              7 * 24 * time.Hour,
		MaxVideosPerChannel:   50,
		MaxTranscriptAttempts: 10,
		MaxTranscriptsPerRun:  50,
		MaxSummariesPerRun:    30,
		SummaryMaxLength:      500,
		MaxKeyPoints:          5,
		RequestTimeout:        2 * time.Minute,
		LockTimeout:           time.Hour,
		Owner:                 "ytsum",
	}
}

func (c Config) Validate() error {
	switch {
	case c.LookBack <= 0:
		return fmt.Errorf("look back must be positive: %w", model.ErrConfiguration)
	case c.MaxVideosPerChannel <= 0, c.MaxTranscriptAttempts <= 0, c.MaxTranscriptsPerRun <= 0, c.MaxSummariesPerRun <= 0:
		return fmt.Errorf("per run limits must be positive: %w", model.ErrConfiguration)
	case c.SummaryMaxLength <= 0, c.MaxKeyPoints <= 0:
		return fmt.Errorf("summary limits must be positive: %w", model.ErrConfiguration)
	case c.RequestTimeout <= 0, c.LockTimeout <= 0:
		return fmt.Errorf("timeouts must be positive: %w", model.ErrConfiguration)
	}

	return nil
}

type Pipeline struct {
	store      storage.Store
	resolver   ChannelResolver
	fetcher    TranscriptFetcher
	summarizer Summarizer
	index      storage.SummaryIndex
	config     Config
	now        func() time.Time
	logger     *slog.Logger
}

func NewPipeline(store storage.Store, resolver ChannelResolver, fetcher TranscriptFetcher, summarizer Summarizer, config Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		resolver:   resolver,
		fetcher:    fetcher,
		summarizer: summarizer,
		config:     config,
		now:        time.Now,
		logger:     logger,
	}
}

// WithIndex adds a secondary index that receives every new summary.
func (p *Pipeline) WithIndex(index storage.SummaryIndex) *Pipeline {
	p.index = index
	return p
}

func (p *Pipeline) Config() Config {
	return p.config
}

// Start takes the run lock and opens a new run record. When another run
// holds the lock, its id is returned together with ErrRunInProgress.
func (p *Pipeline) Start(ctx context.Context, trigger model.RunTrigger) (*model.Run, error) {
	now := p.now().UTC()
	run := &model.Run{
		ID:        uuid.New(),
		Trigger:   trigger,
		Status:    model.RunInProgress,
		StartedAt: now,
	}

	holder, err := p.store.AcquireRunLock(ctx, model.RunLock{RunID: run.ID, Owner: p.config.Owner, AcquiredAt: now}, now.Add(-p.config.LockTimeout))
	switch {
	case errors.Is(err, storage.ErrRunLocked):
		return &model.Run{ID: holder.RunID, Status: model.RunInProgress, StartedAt: holder.AcquiredAt}, ErrRunInProgress
	case err != nil:
		return nil, fmt.Errorf("could not acquire run lock: %w", err)
	}

	if err := p.store.StartRun(ctx, run); err != nil {
		if rerr := p.store.ReleaseRunLock(context.WithoutCancel(ctx), run.ID); rerr != nil {
			p.logger.Error("failed to release run lock", slog.String("run", run.ID.String()), slog.String("error", rerr.Error()))
		}
		return nil, fmt.Errorf("could not start run: %w", err)
	}
	p.logger.Info("run started", slog.String("run", run.ID.String()), slog.String("trigger", string(trigger)))

	return run, nil
}

// Process does the work for a started run and always leaves it finished.
func (p *Pipeline) Process(ctx context.Context, run *model.Run) *model.Run {
	aborted := false
	allFailed, err := p.process(ctx, run)
	if err != nil {
		aborted = true
		run.RecordError("run", err)
		p.logger.Error("run aborted", slog.String("run", run.ID.String()), slog.String("error", err.Error()))
	}

	run.FinishedAt = p.now().UTC()
	switch {
	case aborted, allFailed:
		run.Status = model.RunFailed
	case run.Errors == 0:
		run.Status = model.RunSuccess
	default:
		run.Status = model.RunPartial
	}

	// the run must be closed even when ctx was the reason to stop
	fctx := context.WithoutCancel(ctx)
	if err := p.store.FinishRun(fctx, run); err != nil {
		p.logger.Error("failed to finish run", slog.String("run", run.ID.String()), slog.String("error", err.Error()))
	}
	if err := p.store.ReleaseRunLock(fctx, run.ID); err != nil {
		p.logger.Error("failed to release run lock", slog.String("run", run.ID.String()), slog.String("error", err.Error()))
	}

	p.logger.Info("run finished",
		slog.String("run", run.ID.String()),
		slog.String("status", string(run.Status)),
		slog.Int("channels", run.ChannelsChecked),
		slog.Int("videos", run.VideosDiscovered),
		slog.Int("transcripts", run.TranscriptsFetched),
		slog.Int("summaries", run.SummariesCreated),
		slog.Int("errors", run.Errors),
	)

	return run
}

func (p *Pipeline) RunOnce(ctx context.Context, trigger model.RunTrigger) (*model.Run, error) {
	run, err := p.Start(ctx, trigger)
	if err != nil {
		return run, err
	}

	return p.Process(ctx, run), nil
}

// process reports whether discovery failed for every channel, or an error
// that ended the run early.
func (p *Pipeline) process(ctx context.Context, run *model.Run) (bool, error) {
	if err := p.validate(); err != nil {
		return false, err
	}

	allFailed, err := p.discover(ctx, run)
	if err != nil {
		return allFailed, err
	}
	if err := p.fetchTranscripts(ctx, run); err != nil {
		return allFailed, err
	}

	return allFailed, p.summarize(ctx, run)
}

func (p *Pipeline) validate() error {
	switch {
	case p.resolver == nil:
		return fmt.Errorf("no channel resolver: %w", model.ErrConfiguration)
	case p.fetcher == nil:
		return fmt.Errorf("no transcript fetcher: %w", model.ErrConfiguration)
	case p.summarizer == nil:
		return fmt.Errorf("no summarizer: %w", model.ErrConfiguration)
	}

	return p.config.Validate()
}

// abort tells whether a unit error ends the whole run.
func abort(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	if errors.Is(err, model.ErrConfiguration) {
		return err
	}

	return nil
}

func (p *Pipeline) discover(ctx context.Context, run *model.Run) (bool, error) {
	channels, err := p.store.Channels(ctx)
	if err != nil {
		return false, fmt.Errorf("could not list channels: %w", err)
	}

	failed := 0
	for _, channel := range channels {
		p.logger.Info("checking channel", slog.String("channel", string(channel.YoutubeChannelID)), slog.String("title", channel.Title))
		added, err := p.discoverChannel(ctx, channel)
		if err != nil {
			if aerr := abort(ctx, err); aerr != nil {
				return false, aerr
			}
			failed++
			run.RecordError("channel "+string(channel.YoutubeChannelID), err)
			p.logger.Error("failed to check channel", slog.String("channel", string(channel.YoutubeChannelID)), slog.String("error", err.Error()))
			continue
		}
		run.ChannelsChecked++
		run.VideosDiscovered += added
	}

	return len(channels) > 0 && failed == len(channels), nil
}

func (p *Pipeline) discoverChannel(ctx context.Context, channel *model.Channel) (int, error) {
	now := p.now().UTC()
	uctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	refs, err := p.resolver.ListRecentVideos(uctx, channel.YoutubeChannelID, now.Add(-p.config.LookBack), p.config.MaxVideosPerChannel)
	cancel()
	if err != nil {
		return 0, err
	}

	added, err := p.store.AddVideos(ctx, channel, refs, now)
	if err != nil {
		return 0, fmt.Errorf("could not store videos: %w", err)
	}
	for _, v := range added {
		p.logger.Info("found new video", slog.String("video", string(v.YoutubeID)), slog.String("title", v.Title))
	}
	if err := p.store.TouchChannel(ctx, channel.ID, now); err != nil {
		return len(added), fmt.Errorf("could not update channel: %w", err)
	}

	return len(added), nil
}

func (p *Pipeline) fetchTranscripts(ctx context.Context, run *model.Run) error {
	pending, err := p.store.PendingTranscripts(ctx, p.config.MaxTranscriptAttempts, p.config.MaxTranscriptsPerRun)
	if err != nil {
		return fmt.Errorf("could not list pending transcripts: %w", err)
	}

	for _, pt := range pending {
		video, transcript := pt.Video, pt.Transcript
		if err := p.fetchTranscript(ctx, video, transcript); err != nil {
			if aerr := abort(ctx, err); aerr != nil {
				return aerr
			}
			run.RecordError("transcript "+string(video.YoutubeID), err)
			p.logger.Error("failed to fetch transcript", slog.String("video", string(video.YoutubeID)), slog.String("error", err.Error()))
			continue
		}
		if transcript.Status == model.TranscriptSuccess {
			run.TranscriptsFetched++
		}
	}

	return nil
}

func (p *Pipeline) fetchTranscript(ctx context.Context, video *model.Video, transcript *model.Transcript) error {
	uctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	res, ferr := p.fetcher.Fetch(uctx, video.YoutubeID)
	cancel()

	now := p.now().UTC()
	transcript.Attempts++
	transcript.UpdatedAt = now
	switch {
	case ferr == nil && res.Status == model.TranscriptSuccess:
		transcript.Status = model.TranscriptSuccess
		transcript.Text = res.Text
		transcript.Language = res.Language
		transcript.LastError = ""
		transcript.FetchedAt = now
	case ferr == nil && res.Status == model.TranscriptUnavailable,
		errors.Is(ferr, model.ErrTranscriptUnavailable), errors.Is(ferr, model.ErrNotFound):
		transcript.Status = model.TranscriptUnavailable
		transcript.LastError = ""
		p.logger.Info("no transcript available", slog.String("video", string(video.YoutubeID)))
	default:
		if ferr == nil {
			ferr = fmt.Errorf("fetch returned status %q: %w", res.Status, model.ErrUnavailable)
		}
		transcript.Status = model.TranscriptError
		transcript.LastError = ferr.Error()
	}

	// a cancelled run still records the attempt
	if err := p.store.SaveTranscript(context.WithoutCancel(ctx), transcript); err != nil {
		return fmt.Errorf("could not save transcript: %w", err)
	}
	if transcript.Status == model.TranscriptError {
		return ferr
	}

	return nil
}

func (p *Pipeline) summarize(ctx context.Context, run *model.Run) error {
	todo, err := p.store.Summarizable(ctx, p.config.MaxSummariesPerRun)
	if err != nil {
		return fmt.Errorf("could not list videos to summarize: %w", err)
	}

	for _, s := range todo {
		if err := p.summarizeVideo(ctx, s); err != nil {
			if aerr := abort(ctx, err); aerr != nil {
				return aerr
			}
			run.RecordError("summary "+string(s.Video.YoutubeID), err)
			p.logger.Error("failed to summarize video", slog.String("video", string(s.Video.YoutubeID)), slog.String("error", err.Error()))
			continue
		}
		run.SummariesCreated++
	}

	return nil
}

func (p *Pipeline) summarizeVideo(ctx context.Context, s model.Summarizable) error {
	p.logger.Info("summarizing video", slog.String("video", string(s.Video.YoutubeID)), slog.String("title", s.Video.Title))
	uctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	res, err := p.summarizer.Summarize(uctx, s.Video.Title, s.TranscriptText, p.config.SummaryMaxLength, p.config.MaxKeyPoints)
	cancel()
	if err != nil {
		return err
	}

	now := p.now().UTC()
	summary := &model.Summary{
		VideoID:   s.Video.ID,
		Text:      res.Text,
		KeyPoints: res.KeyPoints,
		Model:     p.summarizer.Model(),
		CreatedAt: now,
	}
	payload := FormatMessage(s, summary, p.config.SummaryURL)
	notifications := make([]*model.Notification, 0, len(p.config.Recipients))
	for _, recipient := range p.config.Recipients {
		notifications = append(notifications, &model.Notification{
			Recipient: recipient,
			Payload:   payload,
			VideoID:   s.Video.ID,
			Status:    model.NotificationPending,
			CreatedAt: now,
		})
	}
	if err := p.store.AddSummary(ctx, summary, notifications); err != nil {
		return fmt.Errorf("could not save summary: %w", err)
	}

	if p.index != nil {
		if err := p.index.Save(ctx, s.Video, summary); err != nil {
			p.logger.Warn("failed to index summary", slog.String("video", string(s.Video.YoutubeID)), slog.String("error", err.Error()))
		}
	}

	return nil
}
