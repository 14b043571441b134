package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/airbusgeo/geocube/interface/messaging"
	"github.com/airbusgeo/geocube/interface/messaging/pgqueue"
	"github.com/airbusgeo/geocube/interface/messaging/pubsub"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/processor"
	"github.com/airbusgeo/landsat-processor/provider"
	"github.com/airbusgeo/landsat-processor/service"
	"github.com/airbusgeo/landsat-processor/service/log"
	"github.com/gorilla/handlers"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type config struct {
	WorkingDir  string
	StorageURI  string
	ExportAsZip bool

	PgqDbConnection string
	PsProject       string
	JobQueue        string
	EventQueue      string

	AppPort string
	ApiKey  string

	LocalProviderPath  string
	URLTemplate        string
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	WithAws            bool
}

func newAppConfig() (*config, error) {
	config := config{}
	// Global config
	flag.StringVar(&config.WorkingDir, "workdir", "/local-ssd", "working directory to store intermediate results")
	flag.StringVar(&config.StorageURI, "storage-uri", "", "storage uri (currently supported: local, gs) to import the archives of the scenes and export the outputs (optional)")
	flag.BoolVar(&config.ExportAsZip, "export-zip", false, "export the outputs of a job as a single zip file")

	// Messaging
	flag.StringVar(&config.PgqDbConnection, "pgq-connection", "", "enable pgq messaging system with a connection to the database")
	flag.StringVar(&config.PsProject, "ps-project", "", "pubsub subscription project (gcp only/not required in local usage)")
	flag.StringVar(&config.JobQueue, "job-queue", "", "name of the queue for processor jobs (pgqueue or pubsub subscription)")
	flag.StringVar(&config.EventQueue, "event-queue", "", "name of the queue for job events (pgqueue or pubsub topic)")

	// Http API
	flag.StringVar(&config.AppPort, "port", "", "port of the http api (optional)")
	flag.StringVar(&config.ApiKey, "api-key", os.Getenv("PROCESSOR_API_KEY"), "bearer token required by the http api (optional)")

	// Providers
	flag.StringVar(&config.LocalProviderPath, "local-path", "", "local path where archives are stored (optional). To configure a local path as a potential scene Provider.")
	flag.StringVar(&config.URLTemplate, "url-template", "", "download link of the archives, e.g. https://host/{YEAR}/{SCENE}.tar (optional). To configure an url as a potential scene Provider.")
	flag.BoolVar(&config.WithAws, "with-aws", false, "configure the usgs-landsat requester-pays bucket as a potential scene Provider")
	flag.StringVar(&config.AwsAccessKeyID, "aws-access-key-id", os.Getenv("LANDSAT_AWS_ACCESS_KEY_ID"), "aws access key id (default: aws credential chain)")
	flag.StringVar(&config.AwsSecretAccessKey, "aws-secret-access-key", os.Getenv("LANDSAT_AWS_SECRET_ACCESS_KEY"), "aws secret access key")
	flag.Parse()

	if config.WorkingDir == "" {
		return nil, fmt.Errorf("missing workdir config flag")
	}
	if config.JobQueue == "" && config.AppPort == "" {
		return nil, fmt.Errorf("missing job-queue or port config flag")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func newProviders(config *config) (map[string]provider.Provider, error) {
	providers := map[string]provider.Provider{}
	add := func(name string, cfg provider.Config) error {
		p, err := provider.New(name, cfg)
		if err != nil {
			return err
		}
		providers[name] = p
		return nil
	}
	cfg := provider.Config{
		LocalPath:          config.LocalProviderPath,
		URLTemplate:        config.URLTemplate,
		AwsAccessKeyID:     config.AwsAccessKeyID,
		AwsSecretAccessKey: config.AwsSecretAccessKey,
	}
	if config.LocalProviderPath != "" {
		if err := add("local", cfg); err != nil {
			return nil, err
		}
	}
	if config.URLTemplate != "" {
		if err := add("url", cfg); err != nil {
			return nil, err
		}
	}
	if config.WithAws || config.AwsAccessKeyID != "" {
		if err := add("aws", cfg); err != nil {
			return nil, err
		}
	}
	return providers, nil
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	godal.RegisterAll()

	var eventPublisher messaging.Publisher
	var jobConsumer messaging.Consumer
	var logMessaging string
	{
		if config.PgqDbConnection != "" {
			db, w, err := pgqueue.SqlConnect(ctx, config.PgqDbConnection)
			if err != nil {
				return fmt.Errorf("MessagingService: %w", err)
			}
			if config.JobQueue != "" {
				logMessaging += fmt.Sprintf(" pulling on pgqueue:%s", config.JobQueue)
				consumer := pgqueue.NewConsumer(db, config.JobQueue)
				defer consumer.Stop()
				jobConsumer = consumer
			}
			if config.EventQueue != "" {
				logMessaging += fmt.Sprintf(" pushing on pgqueue:%s", config.EventQueue)
				eventPublisher = pgqueue.NewPublisher(w, config.EventQueue, pgqueue.WithMaxRetries(5))
			}
		} else if config.PsProject != "" {
			if config.JobQueue != "" {
				logMessaging += fmt.Sprintf(" pulling on %s/%s", config.PsProject, config.JobQueue)
				if jobConsumer, err = pubsub.NewConsumer(config.PsProject, config.JobQueue); err != nil {
					return fmt.Errorf("pubsub.NewConsumer: %w", err)
				}
			}
			if config.EventQueue != "" {
				logMessaging += fmt.Sprintf(" pushing on %s/%s", config.PsProject, config.EventQueue)
				eventTopic, err := pubsub.NewPublisher(ctx, config.PsProject, config.EventQueue, pubsub.WithMaxRetries(5))
				if err != nil {
					return fmt.Errorf("messaging.NewPublisher: %w", err)
				}
				defer eventTopic.Stop()
				eventPublisher = eventTopic
			}
		}
	}
	if config.JobQueue != "" {
		if jobConsumer == nil {
			return fmt.Errorf("missing configuration for messaging.JobConsumer")
		}
		if eventPublisher == nil {
			return fmt.Errorf("missing configuration for messaging.EventPublisher")
		}
	}

	providers, err := newProviders(config)
	if err != nil {
		return err
	}
	job := processor.Job{
		Processor:   processor.New(),
		ExportAsZip: config.ExportAsZip,
		Providers:   providers,
		WorkDir:     config.WorkingDir,
	}
	if config.StorageURI != "" {
		storageService, err := service.NewStorageStrategy(ctx, config.StorageURI)
		if err != nil {
			return fmt.Errorf("storage[%s].%w", config.StorageURI, err)
		}
		job.Storage = storageService
	}

	var jobStarted atomic.Int64
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/termination_cost", func(w http.ResponseWriter, r *http.Request) {
			terminationCost := 0
			if started := jobStarted.Load(); started != 0 {
				terminationCost = int(time.Since(time.Unix(0, started)).Milliseconds()) //milliseconds since task was leased
			}
			fmt.Fprintf(w, "%d", terminationCost)
		})
		http.ListenAndServe(":9000", mux)
	}()

	// Http API
	var srvErr chan error
	if config.AppPort != "" {
		h := processor.Handler{Registry: job.Processor.Registry, Runner: &job}
		headersOk := handlers.AllowedHeaders([]string{"*"})
		originsOk := handlers.AllowedOrigins([]string{"*"})
		methodsOk := handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"})
		s := http.Server{
			Addr:    ":" + config.AppPort,
			Handler: handlers.CORS(originsOk, headersOk, methodsOk)(BearerAuthenticate(config.ApiKey, h.NewHandler())),
		}
		srvErr = make(chan error, 1)
		go func() {
			srvErr <- s.ListenAndServe()
		}()
		logMessaging += " serving on :" + config.AppPort
	}

	providerNames := make([]string, 0, len(providers))
	for _, p := range providers {
		providerNames = append(providerNames, p.Name())
	}
	log.Logger(ctx).Debug("processor starts" + logMessaging + " fetching scenes from [" + strings.Join(providerNames, ", ") + "]")

	if jobConsumer == nil {
		return fmt.Errorf("http api: %w", <-srvErr)
	}

	maxTries := 15 //Must be less than the configured number of tries of the pubsub topic
	for {
		err := jobConsumer.Pull(ctx, func(ctx context.Context, msg *messaging.Message) (err error) {
			jobStarted.Store(time.Now().UnixNano())
			defer jobStarted.Store(0)
			ctx = log.With(ctx, "msgID", msg.ID)
			log.Logger(log.With(ctx, "body", string(msg.Data))).Sugar().Debugf("message %s try %d", msg.ID, msg.TryCount)

			req := common.BatchRequest{}
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			} else if req.JobID == "" {
				return fmt.Errorf("invalid payload: missing job_id")
			}
			event := common.BatchEvent{JobID: req.JobID, Status: common.StatusRETRY, Date: time.Now()}

			defer func() {
				if err != nil && service.Temporary(err) {
					log.Logger(ctx).Warn("job temporary failure", zap.Error(err))
					return
				}
				if err != nil {
					log.Logger(ctx).Warn("job failed", zap.Error(err))
					event.Message = err.Error()
				}
				resb, e := json.Marshal(event)
				if e != nil {
					err = service.MakeTemporary(fmt.Errorf("marshal: %w", e))
				} else if e := eventPublisher.Publish(ctx, resb); e != nil {
					err = service.MakeTemporary(fmt.Errorf("failed to enqueue result: %w", e))
				}
			}()
			if msg.TryCount > maxTries {
				return fmt.Errorf("too many retries")
			}

			res, err := job.Run(ctx, req)
			if err != nil {
				if msg.TryCount >= maxTries {
					event.Status = common.StatusFAILED
					return fmt.Errorf("too many retries: %w", err)
				}
				if service.Fatal(err) {
					event.Status = common.StatusFAILED
				}
				return err
			}
			log.Logger(ctx).Sugar().Infof("successfully processed job %s: %s", req.JobID, res.Status)
			event = res
			return
		})
		if err != nil {
			return fmt.Errorf("ps.process: %w", err)
		}
	}
}
