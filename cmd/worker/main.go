package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/medgraph/backend/internal/app"
	"github.com/OFFIS-RIT/medgraph/backend/internal/db"
	"github.com/OFFIS-RIT/medgraph/backend/internal/queue"
	"github.com/OFFIS-RIT/medgraph/backend/internal/util"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/ai"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/extract"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/graph"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger/console"
	pgstore "github.com/OFFIS-RIT/medgraph/backend/pkg/store/pgx"

	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
)

const reconcileLockKey = "graph_reconcile"

func newExtractors(aiClient ai.GraphAIClient) (*extract.EntityExtractor, *extract.RelationshipExtractor) {
	entityOpts := []extract.EntityExtractorOption{
		extract.WithEntityThreshold(util.GetEnvNumeric("EXTRACT_THRESHOLD", extract.DefaultThreshold)),
		extract.WithChunking(
			util.GetEnvInt("EXTRACT_CHUNK_SIZE", extract.DefaultChunkSize),
			util.GetEnvInt("EXTRACT_CHUNK_OVERLAP", extract.DefaultChunkOverlap),
		),
		extract.WithParallel(util.GetEnvInt("EXTRACT_PARALLEL", extract.DefaultParallel)),
	}
	relationOpts := []extract.RelationshipExtractorOption{
		extract.WithRelationThreshold(util.GetEnvNumeric("RELATION_THRESHOLD", extract.DefaultThreshold)),
	}

	if util.GetEnvBool("EXTRACT_MODEL_ENABLED", false) {
		var genOpts []ai.GenerateOption
		if model := util.GetEnv("AI_CHAT_EXTRACT_MODEL"); model != "" {
			genOpts = append(genOpts, ai.WithModel(model))
		}
		model := extract.NewModelMethod(aiClient, util.GetEnvInt("AI_RETRIES", 3), genOpts...)
		entityOpts = append(entityOpts, extract.WithEntityMethods(extract.NewPatternMethod(nil), model))
		relationOpts = append(relationOpts, extract.WithRelationMethods(extract.NewPatternRelationMethod(), model))
		logger.Info("Model based extraction enabled")
	}

	return extract.NewEntityExtractor(entityOpts...), extract.NewRelationshipExtractor(relationOpts...)
}

// scheduleReconcile publishes a reconcile message once per interval from
// whichever worker replica holds the lease.
func scheduleReconcile(ctx context.Context, locks *leaselock.Client, ch queue.Publisher, interval time.Duration) {
	owner, _ := os.Hostname()
	limit := util.GetEnvInt("RECONCILE_LIMIT", graph.DefaultReconcileLimit)

	err := locks.RunPeriodic(ctx, reconcileLockKey, interval, owner, func(ctx context.Context) error {
		logger.Debug("Scheduling reconciliation pass", "limit", limit)
		return queue.PublishJSON(ctx, ch, queue.ReconcileQueue, queue.QueueReconcileMsg{Limit: limit})
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("Reconcile scheduler stopped", "err", err)
	}
}

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	if util.GetEnvBool("MIGRATE_ON_START", true) {
		if err := db.Migrate(util.GetEnv("DATABASE_URL"), util.GetEnv("MIGRATIONS_PATH")); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	// GraphAiClient
	aiClient, err := app.NewAIClient()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}
	embedder, err := app.NewEmbedder(aiClient)
	if err != nil {
		logger.Fatal("Could not create embedder", "err", err)
	}

	// Init pgx client
	pgConn, err := app.NewPool(ctx)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	normalizer, err := app.NewNormalizer(ctx, pgConn)
	if err != nil {
		logger.Fatal("Could not create terminology normalizer", "err", err)
	}

	entities, relations := newExtractors(aiClient)
	graphClient, err := graph.NewGraphClient(graph.NewGraphClientParams{
		Store:                 pgstore.NewGraphDBStorageWithConnection(pgConn),
		EntityExtractor:       entities,
		RelationshipExtractor: relations,
		Normalizer:            normalizer,
		Embedder:              embedder,
		ParallelRecords:       util.GetEnvInt("PARALLEL_RECORDS", 2),
		ParallelAiRequests:    util.GetEnvInt("AI_PARALLEL_REQ", 8),
		MaxRetries:            util.GetEnvInt("AI_RETRIES", 3),
	})
	if err != nil {
		logger.Fatal("Could not create graph client", "err", err)
	}
	var handlerOpts []queue.HandlerOption
	files, err := app.NewRecordFileLoader(ctx)
	if err != nil {
		logger.Fatal("Could not create record file loader", "err", err)
	}
	if files != nil {
		handlerOpts = append(handlerOpts, queue.WithFileLoader(files))
	}
	handler := queue.NewHandler(graphClient, handlerOpts...)

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	if interval := util.GetEnvInt("RECONCILE_INTERVAL_SEC", 300); interval > 0 {
		go scheduleReconcile(ctx, leaselock.New(pgConn), ch, time.Duration(interval)*time.Second)
	}

	logger.Info("Listening for messages")

	// Create a single consumer channel with prefetch=1
	// This ensures only ONE message is delivered at a time across all queues
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				processingErr := handler.Handle(ctx, qm.queueName, qm.msg.Body)

				// If there was an error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					queue.HandleProcessingError(ctx, consumerCh, qm.msg, qm.queueName, processingErr)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				metrics := aiClient.GetMetrics()
				logger.Info(
					"AI Metrics",
					"input_tokens", metrics.InputTokens,
					"output_tokens", metrics.OutputTokens,
					"total_tokens", metrics.TotalTokens,
					"duration", formatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
				)
				logger.Info("Processing time", "duration", formatDuration(time.Since(startTime)))
				logger.Info("Waiting for next message")
				aiClient.ResetMetrics()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
