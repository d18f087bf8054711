package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/johnewart/go-orleans-sql/config"
	"github.com/johnewart/go-orleans-sql/grains"
	"github.com/johnewart/go-orleans-sql/relational"
	"github.com/johnewart/go-orleans-sql/reminders/data"
	"github.com/johnewart/go-orleans-sql/reminders/storage"
	"zombiezen.com/go/log"
)

// reminder registers COUNT reminders, each on a fresh grain of GRAIN_TYPE.
func main() {
	ctx := context.Background()

	grainType := os.Getenv("GRAIN_TYPE")
	if grainType == "" {
		grainType = "Ohai"
	}
	count, _ := strconv.Atoi(os.Getenv("COUNT"))
	if count <= 0 {
		count = 1
	}
	period, err := time.ParseDuration(os.Getenv("PERIOD"))
	if err != nil {
		period = 10 * time.Second
	}

	log.Infof(ctx, "GRAIN_TYPE: %s", grainType)
	log.Infof(ctx, "COUNT: %d", count)
	log.Infof(ctx, "PERIOD: %v", period)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Errorf(ctx, "unable to load config: %v", err)
		os.Exit(1)
	}

	d, err := cfg.Dialect()
	if err != nil {
		log.Errorf(ctx, "%v", err)
		os.Exit(1)
	}

	db, err := relational.Open(d, cfg.Database.DSN)
	if err != nil {
		log.Errorf(ctx, "%v", err)
		os.Exit(1)
	}
	defer db.Close()

	table, err := storage.NewSQLStore(storage.SQLStoreConfig{
		Storage:   db,
		Queries:   cfg.ReminderQueries(),
		ServiceID: cfg.Cluster.ServiceID,
	})
	if err != nil {
		log.Errorf(ctx, "%v", err)
		os.Exit(1)
	}

	for i := 0; i < count; i++ {
		reminder := &data.Reminder{
			GrainID:      grains.NewID(grainType),
			ReminderName: "ReminderFoo-" + strconv.Itoa(i),
			StartAt:      time.Now(),
			Period:       period,
		}
		if etag, err := table.UpsertRow(ctx, reminder); err != nil {
			log.Warnf(ctx, "Unable to schedule reminder: %v", err)
		} else {
			log.Infof(ctx, "Scheduled %s for %s (etag %s, hash %d)", reminder.ReminderName, reminder.GrainID, etag, reminder.GrainID.UniformHash())
		}
	}
}
