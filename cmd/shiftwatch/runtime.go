package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shiftwatch/internal/classify"
	"shiftwatch/internal/config"
	"shiftwatch/internal/lock"
	"shiftwatch/internal/logging"
	"shiftwatch/internal/notify"
	"shiftwatch/internal/poller"
	"shiftwatch/internal/roster"
	"shiftwatch/internal/router"
	"shiftwatch/internal/services/calendar"
	"shiftwatch/internal/services/chat"
	"shiftwatch/internal/services/llm"
	"shiftwatch/internal/store"
	"shiftwatch/internal/workflow"
)

// runtime is the assembled service graph behind the poll loop.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	poller *poller.Poller
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	logger, err := logging.NewFromConfig(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	members, err := roster.Load(cfg.Roster.Path)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load roster: %w", err)
	}

	chatClient := chat.NewClient(chat.Config{
		APIBaseURL:     cfg.Chat.APIBaseURL,
		APIToken:       cfg.Chat.APIToken,
		GroupID:        cfg.Chat.GroupID,
		BotID:          cfg.Chat.BotID,
		BotName:        cfg.Chat.BotName,
		TimeoutSeconds: cfg.Chat.TimeoutSeconds,
		PostingEnabled: cfg.Chat.PostingEnabled,
	}, logger)

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})

	calendarClient := calendar.NewClient(calendar.Config{
		BaseURL:        cfg.Calendar.ServiceURL,
		TimeoutSeconds: cfg.Calendar.TimeoutSeconds,
		RetryAttempts:  cfg.Calendar.RetryAttempts,
	}, logger)

	notifier := notify.NewAdminNotifier(chatClient, cfg.Chat.AdminUserIDs, logger)

	engine := workflow.NewEngine(
		st,
		classify.NewExtractor(llmClient, logger),
		calendarClient,
		chatClient,
		notifier,
		time.Duration(cfg.Workflow.TTLHours)*time.Hour,
		logger,
	)

	messageRouter := router.New(
		router.Config{
			ConfidenceThreshold: cfg.LLM.ConfidenceThreshold,
			InteractionLimit:    cfg.Workflow.InteractionLimit,
		},
		st,
		engine,
		classify.NewIntentDetector(llmClient, logger),
		classify.NewRelatednessChecker(llmClient, logger),
		members,
		calendarClient,
		chatClient,
		notifier,
		logger,
	)

	staleHandler := func(ctx context.Context, previous lock.Record, age time.Duration) error {
		notifier.Notify(ctx, notify.Event{
			Kind: notify.EventPollerTimeout,
			Context: map[string]string{
				"instance_id": previous.InstanceID,
				"started_at":  previous.StartedAt.Format("2006-01-02 15:04:05"),
				"age":         age.Round(time.Second).String(),
			},
		})
		return nil
	}
	lockManager, err := lock.NewManager(
		cfg.Lock.Path,
		time.Duration(cfg.Lock.StaleMinutes)*time.Minute,
		logger,
		lock.WithStaleHandler(staleHandler),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init poller lock: %w", err)
	}

	p := poller.New(
		poller.Config{
			FetchLimit:           cfg.Chat.FetchLimit,
			MaxRetryAttempts:     cfg.Queue.MaxRetryAttempts,
			MessageTTL:           time.Duration(cfg.Queue.MessageTTLHours) * time.Hour,
			ImpersonationEnabled: cfg.Chat.ImpersonationEnabled,
			CursorPath:           cfg.CursorPath(),
		},
		st,
		chatClient,
		messageRouter,
		lockManager,
		members,
		notifier,
		logger,
	)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  st,
		poller: p,
	}, nil
}

func (r *runtime) Close() error {
	return r.store.Close()
}
