package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stewnight/cropsteer/internal/config"
	"github.com/stewnight/cropsteer/internal/model"
	"github.com/stewnight/cropsteer/internal/services/advisor"
	"github.com/stewnight/cropsteer/internal/services/aggregator"
	"github.com/stewnight/cropsteer/internal/services/command"
	"github.com/stewnight/cropsteer/internal/services/engine"
	"github.com/stewnight/cropsteer/internal/services/learning"
	"github.com/stewnight/cropsteer/internal/services/telemetry"
	"github.com/stewnight/cropsteer/pkg/mqttbus"
)

func main() {
	_ = godotenv.Load()

	// ===================== Config =====================
	settings := config.FromEnv()
	cfg := struct {
		Mqtt mqttbus.Config

		InfluxURL    string
		InfluxToken  string
		InfluxOrg    string
		InfluxBucket string

		ZonesPath      string
		HTTPPort       int
		ReadinessGrace time.Duration
	}{
		Mqtt: mqttbus.Config{
			Host:     config.EnvStr("MQTT_HOST", "localhost"),
			Port:     config.EnvInt("MQTT_PORT", 1883),
			User:     config.EnvStr("MQTT_USER", ""),
			Password: config.EnvStr("MQTT_PASSWORD", ""),
			ClientID: config.EnvStr("HOSTNAME", "cropsteer-engine"),
		},

		InfluxURL:    config.EnvStr("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    config.EnvStr("INFLUX_ORG", "cropsteer"),
		InfluxBucket: config.EnvStr("INFLUX_BUCKET", "events"),

		ZonesPath:      config.EnvStr("ZONES_PATH", "config/zones.json"),
		HTTPPort:       config.EnvInt("HTTP_PORT", 8080),
		ReadinessGrace: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ===================== Zones =====================
	zones, bad, err := config.LoadZones(cfg.ZonesPath)
	if err != nil {
		log.Fatalf("engine: load zones: %v", err)
	}
	for _, cerr := range bad {
		log.Printf("engine: zone rejected: %v", cerr)
	}
	if len(zones) == 0 {
		log.Fatalf("engine: no valid zones in %s", cfg.ZonesPath)
	}

	// ===================== InfluxDB =====================
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(config.EnvInt("WRITE_BATCH_SIZE", 10))).
		SetFlushInterval(uint(config.EnvInt("WRITE_FLUSH_INTERVAL_MS", 200)))
	influx := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	defer influx.Close()
	writeAPI := influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket)
	writer := telemetry.NewWriter(writeAPI)

	// ===================== MQTT =====================
	client, err := mqttbus.Connect(ctx, &cfg.Mqtt)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	publisher := mqttbus.NewPublisher(client)

	// ===================== Telemetry =====================
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	events := telemetry.NewService(publisher, writeAPI, writer, metrics, settings.TopicPrefix)
	exporter := telemetry.NewExporter(influx, cfg.InfluxOrg, cfg.InfluxBucket)

	// ===================== Sensor fusion =====================
	sensorTopic := settings.TopicPrefix + "/sensor/#"
	agg := aggregator.NewService(
		mqttbus.NewConsumer(client, 0, sensorTopic),
		publisher,
		settings.TopicPrefix,
		settings.TickInterval,
		settings.SnapshotStaleAfter,
		settings.DisagreementVWC,
	)

	// ===================== Learning =====================
	store, err := learning.NewStore(settings.LearningProfilePath)
	if err != nil {
		log.Fatalf("engine: open learning store: %v", err)
	}

	// ===================== Advisory oracle =====================
	var oracle advisor.Oracle
	if settings.AdvisoryEnabled {
		oracle = advisor.NewOpenAIOracle(settings.AdvisoryBaseURL, settings.AdvisoryAPIKey, settings.AdvisoryModel, settings.AdvisoryTimeout)
	}
	adapter := advisor.NewAdapter(oracle, settings, events)

	// ===================== Engine =====================
	calc := engine.NewShotCalculator(settings.MaxShotSeconds, store)
	actuator := engine.NewMQTTActuator(publisher, settings.TopicPrefix)
	manager := engine.NewManager(settings, calc, adapter, actuator, agg, store, events)
	agg.OnSnapshot(manager.OnSnapshot)

	characterizer := learning.NewCharacterizer(store, manager, agg, events, settings)

	// ===================== Command surface =====================
	cmdSvc := command.NewService(
		mqttbus.NewConsumer(client, 1, settings.TopicPrefix+"/cmd/#"),
		publisher,
		settings.TopicPrefix,
		settings.MaxShotSeconds,
		manager,
		characterizer,
		store,
		agg,
		adapter,
		exporter,
		func() (map[string]model.ZoneConfig, []*model.ConfigurationError, error) {
			return config.LoadZones(cfg.ZonesPath)
		},
		events,
		writer,
	)

	// ===================== Shot results =====================
	results := mqttbus.NewConsumer(client, 1, settings.TopicPrefix+"/actuator/+/result")
	results.SetHandler(func(topic string, msg mqtt.Message) error {
		var res model.ShotResult
		if err := json.Unmarshal(msg.Payload(), &res); err != nil {
			log.Printf("engine: bad shot result on %s: %v", topic, err)
			return nil
		}
		manager.OnShotResult(res)
		return nil
	})

	// ===================== HTTP =====================
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.NewHealthHandler(client, influx, writer))
	mux.Handle("/readyz", telemetry.NewReadyHandler(client, influx, writer, 2*time.Second))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/zones", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(manager.Statuses())
	})

	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("engine: HTTP listening on :%d", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// ===================== Run =====================
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				metrics.ObserveBudget(adapter.Budget())
			}
		}
	}()
	go agg.Start(ctx)
	go cmdSvc.Start(ctx)
	go results.Consume(ctx)
	go manager.Start(ctx, zones)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Printf("engine: shutting down...")
	cancel()

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ReadinessGrace)
	defer shCancel()
	_ = hs.Shutdown(shCtx)

	// allow a final flush of the audit log
	writeAPI.Flush()
}
