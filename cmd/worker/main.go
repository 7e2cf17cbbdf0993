package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftwatch/driftwatch/internal/boot"
	"github.com/driftwatch/driftwatch/internal/queue"
	"github.com/driftwatch/driftwatch/internal/storage"
	"github.com/driftwatch/driftwatch/internal/util"
	"github.com/driftwatch/driftwatch/internal/warehouse"
	"github.com/driftwatch/driftwatch/pkg/leaselock"
	"github.com/driftwatch/driftwatch/pkg/logger"
	"github.com/driftwatch/driftwatch/pkg/logger/console"
)

const warmLeaseKey = "warm_compute"

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

	// Init s3 client
	dataDir := util.GetEnvString("DATA_DIR", "./data")
	s3 := storage.NewS3Client(ctx)
	remote := storage.NewSegmentStore(s3, dataDir)

	// Init pgx client; the lease lock and warehouse sync need it
	var wh *warehouse.Client
	var warmLease func(ctx context.Context, fn func(context.Context) error) error
	if dbURL := util.GetEnv("DATABASE_URL"); dbURL != "" {
		pgConn, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pgConn.Close()

		locks := leaselock.New(pgConn)
		if err := locks.EnsureTable(ctx); err != nil {
			logger.Fatal("Unable to create lock table", "err", err)
		}
		warmLease = func(ctx context.Context, fn func(context.Context) error) error {
			err := locks.WithLease(ctx, warmLeaseKey, leaselock.Options{TTL: 5 * time.Minute}, fn)
			if err == leaselock.ErrBusy {
				logger.Debug("Warm compute lease busy, skipping pass")
				return nil
			}
			return err
		}
		wh = warehouse.New(pgConn)
	} else {
		logger.Warn("DATABASE_URL not set, warehouse sync and lease lock disabled")
	}

	// Init engine
	app, err := boot.New(boot.Config{
		DataDir:      dataDir,
		RulesDir:     util.GetEnvString("RULES_DIR", "./rules"),
		Remote:       remote,
		Warehouse:    wh,
		WarmLease:    warmLease,
		WarmInterval: time.Duration(util.GetEnvNumeric("WARM_INTERVAL_SEC", 300)) * time.Second,
		RuleInterval: time.Duration(util.GetEnvNumeric("RULE_INTERVAL_SEC", 60)) * time.Second,
	})
	if err != nil {
		logger.Fatal("Failed to initialize engine", "err", err)
	}
	app.Start(ctx)

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
		logger.Fatal("Failed to setup queues", "err", err)
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

				var processingErr error
				switch qm.queueName {
				case queue.SegmentQueue:
					processingErr = queue.ProcessSegmentMessage(ctx, remote, app.Pipeline(), app.Graph(), app.Catalog, string(qm.msg.Body))
				case queue.RemoveQueue:
					processingErr = queue.ProcessRemoveMessage(ctx, app.Catalog, remote.RemoveCached, string(qm.msg.Body))
				}

				// If there was an error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					handleProcessingError(consumerCh, qm.msg, qm.queueName)
				} else {
					err = qm.msg.Ack(false)
					if err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				processingDuration := time.Since(startTime)
				logger.Info("Processing time", "duration", processingDuration.Round(time.Millisecond).String())
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// If message has been retried 10 times, send to dead-letter
	if retries >= 10 {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "text/plain",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
