package bootstrap

import (
	"context"
	"log"
	"time"

	"sportbook-be/internal/config"
	"sportbook-be/internal/handler"
	"sportbook-be/internal/pkg/logger"
	"sportbook-be/internal/repository/unitofwork"
	"sportbook-be/internal/service"
	"sportbook-be/internal/websocket"
	chatEvents "sportbook-be/pkg/chat/events"
	"sportbook-be/pkg/chat/history"
	"sportbook-be/pkg/chat/presence"
	"sportbook-be/pkg/chat/roomsession"
	"sportbook-be/pkg/chat/typing"
	pkgNats "sportbook-be/pkg/nats"
	"sportbook-be/pkg/sharedstate"

	"gorm.io/gorm"
)

const presenceSweepInterval = 15 * time.Second

type Container struct {
	ChatHandler     *handler.ChatHandler
	ChatCoordinator *service.ChatCoordinator
	WebSocketHub    *websocket.Hub

	// Background work (exposed for main.go to run and stop)
	Pipeline      *service.MessagePipeline
	NatsSub       *pkgNats.Subscriber
	MemoryTracker *presence.MemoryTracker

	closers []func()
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	chatLogger := logger.NewIsolatedLogger(cfg.App.ChatLogFilePath)

	c := &Container{}

	// 2. Shared state
	// Single mode keeps everything in process; distributed mode shares it
	// through Redis so the whole fleet agrees on presence, sessions and order.
	var (
		state   sharedstate.Store
		relay   sharedstate.Store
		tracker presence.Tracker
	)
	presenceCfg := presence.Config{
		EntryTTL:     cfg.Chat.PresenceEntryTTL,
		OfflineGrace: cfg.Chat.OfflineGrace,
		StaleAfter:   cfg.Chat.StaleAfter,
	}
	if cfg.Chat.Distributed() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisStore, err := sharedstate.NewRedisStoreFromURL(ctx, cfg.App.RedisURL)
		cancel()
		if err != nil {
			log.Fatalf("[FATAL] Distributed chat mode requires Redis: %v", err)
		}
		state, relay = redisStore, redisStore
		tracker = presence.NewSharedTracker(redisStore, presenceCfg)
		log.Printf("[INFO] Chat mode: DISTRIBUTED (instance %s)", cfg.App.InstanceID)
	} else {
		memStore := sharedstate.NewMemoryStore(time.Minute)
		memTracker := presence.NewMemoryTracker(presenceCfg)
		state, tracker = memStore, memTracker
		c.MemoryTracker = memTracker
		log.Printf("[INFO] Chat mode: SINGLE")
	}
	c.closers = append(c.closers, func() { _ = state.Close() })

	// 3. Event bus (optional)
	var bus chatEvents.Bus
	if cfg.App.NatsURL != "" {
		natsPub, err := pkgNats.NewPublisher(cfg.App.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			bus = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
		natsSub, err := pkgNats.NewSubscriber(cfg.App.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
		} else {
			c.NatsSub = natsSub
			c.closers = append(c.closers, natsSub.Close)
		}
	}

	// 4. WebSocket Hub
	c.WebSocketHub = websocket.NewHub(relay, cfg.App.InstanceID, chatLogger)

	// 5. Services
	oracle := service.NewMatchAccessService(uowFactory, cfg.Chat.MinParticipants, chatLogger)
	c.Pipeline = service.NewMessagePipeline(
		oracle,
		service.NewGormChatStore(uowFactory),
		history.NewCache(state, cfg.Chat.HistoryLimit, cfg.Chat.HistoryRetention),
		tracker,
		c.WebSocketHub,
		chatEvents.NewNatsPublisher(bus, chatLogger),
		relay,
		service.PipelineConfig{
			MaxMessageLength: cfg.Chat.MaxMessageLength,
			DeliveryDelay:    cfg.Chat.DeliveryDelay,
			HistoryLimit:     cfg.Chat.HistoryLimit,
		},
		chatLogger,
	)
	c.ChatCoordinator = service.NewChatCoordinator(
		service.NewJWTTokenVerifier(cfg.App.JWTSecret, uowFactory),
		oracle,
		tracker,
		roomsession.NewManager(state, cfg.Chat.SessionTTL),
		typing.NewTracker(state, cfg.Chat.TypingTTL),
		c.Pipeline,
		c.WebSocketHub,
		chatLogger,
	)

	// 6. Handlers
	c.ChatHandler = handler.NewChatHandler(
		c.ChatCoordinator,
		c.WebSocketHub,
		cfg.App.JWTSecret,
		cfg.Chat.InboundQueueSize,
		chatLogger,
	)

	return c
}

// Start launches the hub, the presence sweeper and the revocation listener.
func (c *Container) Start(ctx context.Context, instanceID string) {
	go c.WebSocketHub.Run(ctx)

	if c.MemoryTracker != nil {
		go c.MemoryTracker.Run(ctx, presenceSweepInterval)
	}

	if c.NatsSub != nil {
		if err := c.ChatCoordinator.StartRevocationListener(ctx, c.NatsSub, instanceID); err != nil {
			log.Printf("[WARN] Membership revocation listener not started: %v", err)
		}
	}
}

// Close waits for in-flight delivery tracking and releases connections.
func (c *Container) Close() {
	c.Pipeline.Close()
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
