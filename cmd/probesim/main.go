package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stewnight/cropsteer/internal/config"
	"github.com/stewnight/cropsteer/internal/probesim"
	"github.com/stewnight/cropsteer/pkg/mqttbus"
)

func main() {
	_ = godotenv.Load()

	zone := flag.String("zone", "zone1", "zone-group identifier")
	interval := flag.Duration("interval", 30*time.Second, "publish interval")
	decay := flag.Float64("decay", 0.05, "dryback rate, VWC points per minute")
	gain := flag.Float64("gain", 2.0, "VWC points per liter applied")
	flow := flag.Float64("flow-lpm", 0.4, "valve flow, liters per minute")
	seed := flag.Float64("seed-vwc", 65.0, "starting VWC percent")
	flag.Parse()

	cfg := &mqttbus.Config{
		Host:     config.EnvStr("MQTT_HOST", "localhost"),
		Port:     config.EnvInt("MQTT_PORT", 1883),
		User:     config.EnvStr("MQTT_USER", ""),
		Password: config.EnvStr("MQTT_PASSWORD", ""),
		ClientID: config.EnvStr("HOSTNAME", "probesim-"+*zone),
	}
	prefix := config.EnvStr("TOPIC_PREFIX", "cropsteer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := mqttbus.Connect(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	m := probesim.NewSubstrateModel(*decay, *gain, func() float64 { return rnd.Float64()*2 - 1 })
	m.SeedVWC(*seed)

	sim := probesim.NewSimulator(
		mqttbus.NewConsumer(client, 1, prefix+"/actuator/"+*zone+"/shot"),
		mqttbus.NewPublisher(client),
		prefix, *zone, *flow, m,
	)

	go sim.Start(ctx, *interval)
	log.Printf("probesim: simulating %s every %s", *zone, *interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Printf("probesim: shutting down")
}
