// Command gentrack writes a deterministic synthetic drive as a JSON array of
// position samples and, optionally, the planned course as GeoJSON. With
// -brokers set the samples are also produced to the positions topic, which
// is handy for exercising a local stack.
//
// Usage:
//
//	go run ./cmd/gentrack \
//	  -out data/mock/drive_austin.json \
//	  -course-out data/mock/drive_austin_course.geojson \
//	  -detour-after 60 -detour-turn 90
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/track"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	def := track.DefaultConfig()

	out := flag.String("out", "", "output path for the samples JSON fixture")
	courseOut := flag.String("course-out", "", "optional output path for the course GeoJSON")
	count := flag.Int("count", def.Count, "number of samples")
	seed := flag.Uint64("seed", def.Seed, "noise seed")
	noise := flag.Float64("noise", def.Noise, "1-sigma position noise in metres")
	speed := flag.Float64("speed", def.Speed, "speed in m/s")
	bearing := flag.Float64("bearing", def.Bearing, "initial course in degrees")
	deviceHeading := flag.Bool("device-heading", false, "include device heading and speed")
	detourAfter := flag.Int("detour-after", 0, "turn off the course after this many samples")
	detourTurn := flag.Float64("detour-turn", 90, "detour turn in degrees")
	brokers := flag.String("brokers", "", "comma-separated Kafka brokers; empty skips producing")
	topic := flag.String("topic", "vehicle-positions", "positions topic")
	vehicle := flag.String("vehicle", "vehicle-1", "message key")
	flag.Parse()

	if *out == "" && *brokers == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out or -brokers")
	}

	cfg := def
	cfg.Count = *count
	cfg.Seed = *seed
	cfg.Noise = *noise
	cfg.Speed = *speed
	cfg.Bearing = *bearing
	cfg.DeviceHeading = *deviceHeading
	if *detourAfter > 0 {
		cfg.DetourAfter = *detourAfter
		cfg.DetourTurn = *detourTurn
	}

	samples := track.Generate(cfg)
	log.Printf("generated %d samples from %v", len(samples), cfg.Start)

	if *out != "" {
		if err := writeJSON(*out, samples); err != nil {
			return fmt.Errorf("writing samples fixture: %w", err)
		}
		log.Printf("wrote samples fixture: %s", *out)
	}

	if *courseOut != "" {
		f := geojson.NewFeature(track.Course(cfg))
		f.Properties["seed"] = cfg.Seed
		f.Properties["samples"] = cfg.Count
		fc := geojson.NewFeatureCollection().Append(f)
		data, err := fc.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode course: %w", err)
		}
		if err := writeFile(*courseOut, data); err != nil {
			return fmt.Errorf("writing course: %w", err)
		}
		log.Printf("wrote course: %s", *courseOut)
	}

	if *brokers != "" {
		if err := produce(strings.Split(*brokers, ","), *topic, *vehicle, samples); err != nil {
			return fmt.Errorf("producing samples: %w", err)
		}
		log.Printf("produced %d samples to %s", len(samples), *topic)
	}
	return nil
}

func produce(brokers []string, topic, key string, samples []domain.PositionSample) error {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		AllowAutoTopicCreation: true,
	}
	defer w.Close()

	msgs := make([]kafkago.Message, 0, len(samples))
	for _, s := range samples {
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafkago.Message{Key: []byte(key), Value: data, Time: s.Timestamp})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return w.WriteMessages(ctx, msgs...)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
