package app

import (
	"context"
	"fmt"

	"github.com/Bafix001/zibridge/pkg/blob"
	"github.com/Bafix001/zibridge/pkg/database"
	"github.com/Bafix001/zibridge/pkg/graph"
	"github.com/Bafix001/zibridge/pkg/kafka"
	"github.com/Bafix001/zibridge/pkg/redis"
	"github.com/Bafix001/zibridge/pkg/startup"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

const (
	depTracing  = "tracing"
	depDatabase = "database"
	depBlobs    = "blobs"
	depRedis    = "redis"
	depGraph    = "graph"
	depKafka    = "kafka"
)

func (a *App) dependencies() []startup.Dependency {
	cfg := a.Config
	var shutdownTracing func(context.Context) error

	deps := []startup.Dependency{
		&startup.Func{
			Name: depTracing,
			OnStart: func(ctx context.Context) error {
				shutdown, err := tracing.Init(ctx, tracing.Config{
					ServiceName: cfg.AppName,
					Endpoint:    cfg.OTLPEndpoint,
					Protocol:    cfg.OTLPProtocol,
					Insecure:    cfg.OTLPInsecure,
				})
				shutdownTracing = shutdown
				return err
			},
			OnStop: func(ctx context.Context) error {
				if shutdownTracing == nil {
					return nil
				}
				return shutdownTracing(ctx)
			},
		},
		&startup.Func{
			Name:     depDatabase,
			Requires: []string{depTracing},
			OnStart: func(ctx context.Context) error {
				conn, err := database.Open(database.Config{
					Driver:          cfg.DatabaseDriver,
					Host:            cfg.DatabaseHost,
					Port:            cfg.DatabasePort,
					User:            cfg.DatabaseUserName,
					Password:        cfg.DatabasePassword,
					Name:            cfg.DatabaseName,
					SSLMode:         cfg.DatabaseSSLMode,
					Path:            cfg.DatabasePath,
					MaxOpenConns:    cfg.DatabaseMaxOpenConns,
					MaxIdleConns:    cfg.DatabaseMaxIdleConns,
					ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
				}, a.Logger)
				if err != nil {
					return err
				}
				if err := conn.PingContext(ctx); err != nil {
					_ = conn.Close()
					return fmt.Errorf("failed to reach %s database: %w", conn.DriverName(), err)
				}
				a.DB = conn
				return nil
			},
			OnStop: func(context.Context) error {
				if a.DB == nil {
					return nil
				}
				return a.DB.Close()
			},
		},
		&startup.Func{
			Name: depBlobs,
			OnStart: func(ctx context.Context) error {
				store, err := blob.Open(ctx, blob.Config{
					Driver: cfg.BlobDriver,
					Root:   cfg.BlobRoot,
					S3: blob.S3Config{
						Region:          cfg.S3Region,
						Bucket:          cfg.S3Bucket,
						Endpoint:        cfg.S3Endpoint,
						AccessKeyID:     cfg.S3AccessKey,
						SecretAccessKey: cfg.S3SecretKey,
						PathStyle:       cfg.S3ForcePathStyle,
					},
				})
				if err != nil {
					return err
				}
				a.Blobs = store
				return nil
			},
		},
		&startup.Func{
			Name: depRedis,
			OnStart: func(ctx context.Context) error {
				if cfg.RedisHost == "" {
					a.Logger.Info("Redis not configured, project locks are process-local")
					return nil
				}
				client, err := redis.NewClient(redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, a.Logger)
				if err != nil {
					return err
				}
				a.Redis = client
				a.Locker = redis.NewLocker(client, cfg.RedisKeyPrefix, 0)
				return nil
			},
			OnStop: func(context.Context) error {
				if a.Redis == nil {
					return nil
				}
				return a.Redis.Close()
			},
		},
		&startup.Func{
			Name:     depGraph,
			Requires: []string{depRedis},
			OnStart: func(ctx context.Context) error {
				if cfg.GraphURI == "" || cfg.GraphURI == graphMemory {
					a.Graph = graph.NewService(graph.NewMemory(), a.Locker, a.Logger)
					return nil
				}
				client, err := graph.NewClient(graph.Config{
					URI:      cfg.GraphURI,
					Username: cfg.GraphUsername,
					Password: cfg.GraphPassword,
				}, a.Logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return fmt.Errorf("failed to reach graph at %s: %w", cfg.GraphURI, err)
				}
				a.graphStore = client
				a.Graph = graph.NewService(graph.NewNeo4j(client, a.Logger), a.Locker, a.Logger)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if a.graphStore == nil {
					return nil
				}
				return a.graphStore.Close(ctx)
			},
		},
		&startup.Func{
			Name: depKafka,
			OnStart: func(context.Context) error {
				if cfg.KafkaBrokers == "" {
					return nil
				}
				a.producer = kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaEventsTopic), a.Logger)
				a.Publisher = a.producer
				return nil
			},
			OnStop: func(context.Context) error {
				if a.producer == nil {
					return nil
				}
				return a.producer.Close()
			},
		},
	}
	return deps
}

// GraphPing reports graph reachability, nil for the in-memory graph.
func (a *App) GraphPing(ctx context.Context) error {
	if a.graphStore == nil {
		return nil
	}
	return a.graphStore.VerifyConnectivity(ctx)
}
