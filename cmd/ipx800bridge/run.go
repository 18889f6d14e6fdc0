package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/api"
	"github.com/nerrad567/ipx800-bridge/internal/bridges/ipx800"
	"github.com/nerrad567/ipx800-bridge/internal/device"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/broker"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/discovery"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ipx800-bridge/migrations"
)

// pruneInterval is how often state history older than the retention
// period is deleted.
const pruneInterval = 24 * time.Hour

// run wires every component, blocks until ctx is cancelled and shuts
// everything down in reverse start order.
func run(ctx context.Context, cfg *config.Config) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // best-effort flush on exit

	log.Info("starting IPX800 bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
		"device", cfg.DeviceAddress(),
		"device_id", cfg.Device.ID,
	)

	checks := make(map[string]api.HealthChecker)

	// Audit trail (optional)
	var (
		history api.HistoryReader
		journal api.JournalReader
		recOpts = ipx800.RecorderOptions{
			DeviceID:    cfg.Device.ID,
			ChannelName: cfg.ChannelName,
			Logger:      log,
		}
	)
	if cfg.Database.Enabled {
		db, err := database.Open(database.FromConfig(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		applied, err := migrateUp(ctx, db)
		if err != nil {
			return err
		}
		log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

		historyRepo := device.NewSQLiteStateHistoryRepository(db.DB)
		commandJournal := device.NewSQLiteCommandJournal(db.DB)
		history, journal = historyRepo, commandJournal
		recOpts.History, recOpts.Journal = historyRepo, commandJournal
		checks["database"] = db

		if cfg.Database.RetentionDays > 0 {
			// Deferred after db.Close, so it runs first.
			stopPruner := startPruner(ctx, historyRepo, time.Duration(cfg.Database.RetentionDays)*24*time.Hour, log)
			defer stopPruner()
		}
	} else {
		log.Info("database disabled, history and command journal unavailable")
	}

	// Telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recOpts.Points = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Embedded broker (optional)
	if cfg.MQTT.Embedded.Enabled {
		b, err := broker.Start(cfg.MQTT, log.Logger)
		if err != nil {
			return fmt.Errorf("starting embedded broker: %w", err)
		}
		defer func() {
			log.Info("stopping embedded broker")
			if closeErr := b.Close(); closeErr != nil {
				log.Error("error stopping embedded broker", "error", closeErr)
			}
		}()
		log.Info("embedded MQTT broker listening", "address", b.Address())
	}

	// MQTT client (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		will, err := lastWill(cfg)
		if err != nil {
			return err
		}
		mqttClient, err = mqtt.Connect(cfg.MQTT, will)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Device side
	client, err := ipx800.NewClient(ipx800.ClientConfig{
		Host:     cfg.Device.Host,
		Port:     cfg.Device.Port,
		Username: cfg.Device.Username,
		Password: cfg.Device.Password,
		Timeout:  cfg.Device.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating device client: %w", err)
	}
	dispatcher := ipx800.NewDispatcher(client, ipx800.DispatcherOptions{
		Delay:          cfg.Dispatcher.Delay,
		CommandTimeout: cfg.Dispatcher.CommandTimeout,
		Logger:         log,
	})
	store := device.NewStore(device.StoreOptions{
		OptimisticTTL: cfg.State.OptimisticTTL,
		Logger:        log,
	})
	controller, err := ipx800.NewController(ipx800.ControllerOptions{
		DeviceID:     cfg.Device.ID,
		Client:       client,
		Dispatcher:   dispatcher,
		Store:        store,
		PollInterval: cfg.Device.PollInterval,
		ChannelName:  cfg.ChannelName,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}

	// The recorder runs whether or not MQTT is enabled; with no sinks it
	// only drains events.
	recorder := ipx800.NewRecorder(recOpts)
	recorder.Start(store)
	dispatcher.OnResult(recorder.RecordResult)
	defer func() {
		recorder.Stop()
		if dropped := recorder.Dropped(); dropped > 0 {
			log.Warn("recorder dropped events", "count", dropped)
		}
	}()

	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	defer func() {
		log.Info("stopping controller")
		controller.Stop()
	}()

	// MQTT bridge
	var bridgeMetrics api.BridgeMetrics
	if mqttClient != nil {
		bridge, err := ipx800.NewBridge(ipx800.BridgeOptions{
			Controller:     controller,
			MQTT:           &mqttBridgeAdapter{client: mqttClient},
			Dispatcher:     dispatcher,
			BridgeID:       cfg.Device.ID,
			Version:        version,
			HealthInterval: time.Duration(cfg.MQTT.HealthInterval) * time.Second,
			QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
		bridgeMetrics = bridge
	}

	// HTTP API and webhook
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Webhook:    cfg.Webhook,
		Logger:     log,
		Controller: controller,
		History:    history,
		Journal:    journal,
		Checks:     checks,
		Bridge:     bridgeMetrics,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	if cfg.Security.JWT.Secret == "" {
		log.Warn("security.jwt.secret is empty, control API is unauthenticated")
	}

	// mDNS advertisement (optional, non-fatal)
	if cfg.Discovery.Enabled {
		adv, err := discovery.Advertise(cfg.Discovery, discovery.Announcement{
			Port:     cfg.API.Port,
			DeviceID: cfg.Device.ID,
			Version:  version,
			APIPath:  "/api/v1",
		})
		if err != nil {
			log.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer func() {
				if closeErr := adv.Close(); closeErr != nil {
					log.Error("error stopping mDNS responder", "error", closeErr)
				}
			}()
			log.Info("advertising via mDNS", "instance", adv.Instance(), "service", cfg.Discovery.Service)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal", "listen", server.Addr())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// lastWill builds the retained "offline" health message the broker
// publishes if the bridge drops off without a clean disconnect.
func lastWill(cfg *config.Config) (*mqtt.Will, error) {
	payload, err := json.Marshal(ipx800.NewLWTMessage(cfg.Device.ID))
	if err != nil {
		return nil, fmt.Errorf("encoding MQTT last will: %w", err)
	}
	return &mqtt.Will{
		Topic:    ipx800.HealthTopic(),
		Payload:  payload,
		QoS:      byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
		Retained: true,
	}, nil
}

type historyPruner interface {
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// startPruner runs pruneHistory in the background. The returned function
// cancels it and waits for an in-flight prune to finish.
func startPruner(ctx context.Context, repo historyPruner, retention time.Duration, log *logging.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pruneHistory(ctx, repo, retention, log)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// migrateUp applies the embedded schema.
func migrateUp(ctx context.Context, db *database.DB) (int, error) {
	schema, err := migrations.Schema()
	if err != nil {
		return 0, fmt.Errorf("loading migrations: %w", err)
	}
	n, err := db.Migrate(ctx, schema)
	if err != nil {
		return n, fmt.Errorf("running migrations: %w", err)
	}
	return n, nil
}

// pruneHistory deletes expired history once at startup and then daily.
func pruneHistory(ctx context.Context, repo historyPruner, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.PruneHistory(ctx, retention)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			log.Warn("pruning state history failed", "error", err)
		case n > 0:
			log.Info("pruned state history", "deleted", n, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the handler signature:
// infrastructure handlers return an error, bridge handlers do not.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements ipx800.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements ipx800.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements ipx800.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
