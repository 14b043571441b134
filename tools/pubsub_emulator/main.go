package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/service/log"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// queue is a topic and its subscription, with the same name
type queue struct {
	name        string
	ackDeadline time.Duration
}

var queues = []queue{
	{name: "landsat-jobs", ackDeadline: 600 * time.Second},
	{name: "landsat-events", ackDeadline: 10 * time.Second},
}

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	if os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
		os.Setenv("PUBSUB_EMULATOR_HOST", "localhost:8085")
	}

	projectID := flag.String("project", "landsat-emulator", "emulator project")
	jobFile := flag.String("job", "", "json file of a batch request to publish on "+queues[0].name+" (optional)")
	flag.Parse()

	log.Logger(ctx).Sugar().Infof("new client for project %s", *projectID)
	client, err := pubsub.NewClient(ctx, *projectID)
	if err != nil {
		return fmt.Errorf("pubsub.NewClient: %w", err)
	}
	defer client.Close()

	for _, q := range queues {
		log.Logger(ctx).Sugar().Infof("create topic and subscription: %s", q.name)
		if _, err = client.CreateTopic(ctx, q.name); err != nil && status.Code(err) != codes.AlreadyExists {
			return fmt.Errorf("pubsub.CreateTopic[%s]: %w", q.name, err)
		}
		if _, err = client.CreateSubscription(ctx, q.name, pubsub.SubscriptionConfig{
			Topic:       client.Topic(q.name),
			AckDeadline: q.ackDeadline,
		}); err != nil && status.Code(err) != codes.AlreadyExists {
			return fmt.Errorf("pubsub.CreateSubscription[%s]: %w", q.name, err)
		}
	}

	if *jobFile != "" {
		b, err := os.ReadFile(*jobFile)
		if err != nil {
			return err
		}
		req := common.BatchRequest{}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return fmt.Errorf("invalid batch request %s: %w", *jobFile, err)
		}
		topic := client.Topic(queues[0].name)
		defer topic.Stop()
		id, err := topic.Publish(ctx, &pubsub.Message{Data: b}).Get(ctx)
		if err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		log.Logger(ctx).Sugar().Infof("job %s published (message %s)", req.JobID, id)
	}

	log.Logger(ctx).Info("done")
	return nil
}
