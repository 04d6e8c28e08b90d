package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config the application's configuration structure
type Config struct {
	Nodes         string
	Bucket        string
	BucketType    string
	Partitions    int
	Replicas      int
	RedisPassword string

	PoolMinSize           int
	PoolMaxSize           int
	SendQueueCapacity     int
	IdleConnectionTimeout time.Duration
	BackPressureThreshold int
	ScaleInterval         time.Duration

	MaxRetries        int
	OperationTimeout  time.Duration
	DurabilityTimeout time.Duration
	ReplicaFallback   bool
	ReplicateTo       int
	PersistTo         int

	RedisListenPort      int
	MetricsListenAddress string
	Profiling            bool
	LogLevel             string
}

// LoadConfig loads the config from a file if specified, otherwise from the environment
func LoadConfig(cmd *cobra.Command, envPrefix string) (*Config, error) {
	// Setting defaults for this application
	viper.SetDefault("nodes", "")
	viper.SetDefault("bucket", "default")
	viper.SetDefault("bucketType", "partitioned")
	viper.SetDefault("partitions", 1024)
	viper.SetDefault("replicas", 1)
	viper.SetDefault("redisPassword", "")

	viper.SetDefault("poolMinSize", 2)
	viper.SetDefault("poolMaxSize", 5)
	viper.SetDefault("sendQueueCapacity", 1024)
	viper.SetDefault("idleConnectionTimeout", 5*time.Minute)
	viper.SetDefault("backPressureThreshold", 4)
	viper.SetDefault("scaleInterval", time.Second)

	viper.SetDefault("maxRetries", 10)
	viper.SetDefault("operationTimeout", 2500*time.Millisecond)
	viper.SetDefault("durabilityTimeout", 10*time.Second)
	viper.SetDefault("replicaFallback", false)
	viper.SetDefault("replicateTo", 0)
	viper.SetDefault("persistTo", 0)

	viper.SetDefault("redisListenPort", 6380)
	viper.SetDefault("metricsListenAddress", ":9100")
	viper.SetDefault("profiling", false)
	viper.SetDefault("logLevel", "info")

	// Read Config from ENV
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	// Read Config from Flags
	err := viper.BindPFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}

	// Read Config from file
	if configFile, err := cmd.Flags().GetString("config-file"); err == nil && configFile != "" {
		viper.SetConfigFile(configFile)

		if err := viper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config

	err = viper.Unmarshal(&config)
	if err != nil {
		return nil, err
	}

	return &config, nil
}
