package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/acksell/entities/store"
	"github.com/acksell/entities/store/badgerstore"
	"github.com/acksell/entities/store/cqlstore"
	"github.com/acksell/entities/store/ddbstore"
	"github.com/acksell/entities/store/memstore"
	"github.com/acksell/entities/store/pgstore"
	"github.com/acksell/entities/store/redisstore"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-redis/redis/v8"
)

type openFunc func(ctx context.Context, cfg BackendConfig, logger *log.Logger, tables []string) (store.Store, error)

// backends maps BackendConfig.Kind to the constructor of its store.
var backends = map[string]openFunc{
	"memory":    openMemory,
	"badger":    openBadger,
	"postgres":  openPostgres,
	"dynamodb":  openDynamoDB,
	"cassandra": openCassandra,
	"redis":     openRedis,
}

func backendKinds() []string {
	kinds := make([]string, 0, len(backends))
	for k := range backends {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func openStore(ctx context.Context, cfg BackendConfig, logger *log.Logger, tables []string) (store.Store, error) {
	open, ok := backends[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown backend kind %q (want one of %v)", cfg.Kind, backendKinds())
	}
	return open(ctx, cfg, logger, tables)
}

func openMemory(_ context.Context, cfg BackendConfig, _ *log.Logger, tables []string) (store.Store, error) {
	return memstore.New(memstore.Options{MaxValueBytes: cfg.MaxValueBytes}, tables...), nil
}

func openBadger(_ context.Context, cfg BackendConfig, logger *log.Logger, tables []string) (store.Store, error) {
	if cfg.Badger.Path == "" {
		return nil, fmt.Errorf("badger: path is required")
	}
	return badgerstore.New(badgerstore.StoreOptions{
		Path:          cfg.Badger.Path,
		Logger:        logger,
		MaxValueBytes: cfg.MaxValueBytes,
	}, tables...)
}

func openPostgres(ctx context.Context, cfg BackendConfig, logger *log.Logger, tables []string) (store.Store, error) {
	if cfg.Postgres.URL == "" {
		return nil, fmt.Errorf("postgres: url is required")
	}
	return pgstore.Connect(ctx, cfg.Postgres.URL, pgstore.Options{
		MaxValueBytes: cfg.MaxValueBytes,
		Logger:        logger,
	}, tables...)
}

func openDynamoDB(ctx context.Context, cfg BackendConfig, logger *log.Logger, tables []string) (store.Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.DynamoDB.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.DynamoDB.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
	})
	return ddbstore.New(client, ddbstore.Options{
		TablePrefix:   cfg.DynamoDB.TablePrefix,
		MaxValueBytes: cfg.MaxValueBytes,
		Logger:        logger,
	}, tables...), nil
}

func openCassandra(_ context.Context, cfg BackendConfig, logger *log.Logger, tables []string) (store.Store, error) {
	if len(cfg.Cassandra.Hosts) == 0 {
		return nil, fmt.Errorf("cassandra: hosts are required")
	}
	keyspace := cfg.Cassandra.Keyspace
	if keyspace == "" {
		keyspace = "entities"
	}
	return cqlstore.Connect(cfg.Cassandra.Hosts, 10*time.Second, cqlstore.Options{
		Keyspace:          keyspace,
		ReplicationFactor: cfg.Cassandra.ReplicationFactor,
		MaxValueBytes:     cfg.MaxValueBytes,
		Logger:            logger,
	}, tables...)
}

func openRedis(ctx context.Context, cfg BackendConfig, logger *log.Logger, tables []string) (store.Store, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return redisstore.New(client, redisstore.Options{
		KeyPrefix:     cfg.Redis.KeyPrefix,
		MaxValueBytes: cfg.MaxValueBytes,
		Logger:        logger,
	}, tables...), nil
}
