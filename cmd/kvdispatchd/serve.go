package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/profile"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	redisBackend "github.com/cafebazaar/kvdispatch/internal/backend/redis"
	"github.com/cafebazaar/kvdispatch/internal/cluster/dynamic"
	staticController "github.com/cafebazaar/kvdispatch/internal/cluster/static"
	"github.com/cafebazaar/kvdispatch/internal/core"
	"github.com/cafebazaar/kvdispatch/internal/engine"
	"github.com/cafebazaar/kvdispatch/internal/pool"
	redisTransport "github.com/cafebazaar/kvdispatch/internal/transport/redis"
	"github.com/cafebazaar/kvdispatch/pkg/keyvaluestore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start Server",
	Run:   serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) {
	config := loadConfigOrPanic(cmd)
	configureLoggingOrPanic(config)

	if config.Profiling {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	}

	cluster := configureClusterOrPanic(config)
	executor := configureExecutor(cluster, config)
	svc := getService(executor, config)

	server := makeRedisServer(svc, config)
	startServerOrPanic(server)

	metricsServer := startMetricsServer(config)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	shutdownServerOrPanic(server)
	if err := metricsServer.Close(); err != nil {
		log.WithError(err).Warn("failed to close metrics server")
	}
	if err := svc.Close(); err != nil {
		log.WithError(err).Error("failed to close executor")
	}
	if err := cluster.Close(); err != nil {
		log.WithError(err).Error("failed to close cluster")
	}
}

func loadConfigOrPanic(cmd *cobra.Command) *Config {
	config, err := LoadConfig(cmd, envPrefix)
	if err != nil {
		log.WithError(err).Panic("Failed to load configurations")
	}
	return config
}

func configureLoggingOrPanic(config *Config) {
	level, err := log.ParseLevel(config.LogLevel)
	if err != nil {
		panicWithError(err, "invalid log level: %v", config.LogLevel)
	}

	log.SetLevel(level)
}

func configureClusterOrPanic(config *Config) dynamic.Cluster {
	if config.Nodes == "" {
		log.Panicf("no suitable cluster formation available: %v", config)
	}

	var hosts []string
	for _, host := range strings.Split(config.Nodes, ",") {
		hosts = append(hosts, strings.TrimSpace(host))
	}

	controller := staticController.New(hosts,
		staticController.WithBucket(config.Bucket),
		staticController.WithBucketType(convertBucketTypeOrPanic(config.BucketType)),
		staticController.WithPartitions(config.Partitions),
		staticController.WithReplicas(config.Replicas))

	topology, err := controller.Topology(1)
	if err != nil {
		panicWithError(err, "failed to build topology")
	}

	dialer := redisBackend.NewDialer(redisBackend.WithPassword(config.RedisPassword))

	cluster := dynamic.New(func(node *keyvaluestore.Node) keyvaluestore.Pool {
		scaler := pool.NewScaleController(
			pool.WithInterval(config.ScaleInterval),
			pool.WithBackPressureThreshold(config.BackPressureThreshold),
			pool.WithIdleConnectionTimeout(config.IdleConnectionTimeout))

		return pool.New(node, dialer,
			pool.WithMinimumSize(config.PoolMinSize),
			pool.WithMaximumSize(config.PoolMaxSize),
			pool.WithSendQueueCapacity(config.SendQueueCapacity),
			pool.WithScaleController(scaler))
	})

	if err := cluster.Update(context.Background(), topology); err != nil {
		panicWithError(err, "failed to apply topology")
	}

	return cluster
}

func convertBucketTypeOrPanic(bucketType string) keyvaluestore.BucketType {
	switch strings.ToLower(bucketType) {
	case "partitioned", "couchbase", "vbucket":
		return keyvaluestore.BucketTypePartitioned

	case "hashring", "memcached", "ketama":
		return keyvaluestore.BucketTypeHashRing

	default:
		log.Panicf("unrecognized bucket type: %v", bucketType)
		return keyvaluestore.BucketTypePartitioned
	}
}

func configureExecutor(cluster keyvaluestore.Cluster, config *Config) keyvaluestore.Executor {
	return engine.New(cluster,
		engine.WithDefaultMaxRetries(config.MaxRetries),
		engine.WithDefaultTimeout(config.OperationTimeout),
		engine.WithDurabilityTimeout(config.DurabilityTimeout),
		engine.WithReplicaFallback(config.ReplicaFallback))
}

func getService(executor keyvaluestore.Executor, config *Config) keyvaluestore.Service {
	return core.New(executor, core.WithDefaultDurability(keyvaluestore.Durability{
		ReplicateTo: config.ReplicateTo,
		PersistTo:   config.PersistTo,
	}))
}

func makeRedisServer(svc keyvaluestore.Service, config *Config) keyvaluestore.Server {
	return redisTransport.New(svc, config.RedisListenPort)
}

func startMetricsServer(config *Config) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	server := &http.Server{Addr: config.MetricsListenAddress, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	return server
}

func startServerOrPanic(server keyvaluestore.Server) {
	err := server.Start()
	if err != nil {
		panicWithError(err, "failed to start server")
	}
}

func shutdownServerOrPanic(server keyvaluestore.Server) {
	if err := server.Close(); err != nil {
		panicWithError(err, "failed to close server")
	}
}

func panicWithError(err error, format string, args ...interface{}) {
	log.WithError(err).Panicf(format, args...)
}
