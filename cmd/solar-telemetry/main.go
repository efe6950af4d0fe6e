package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"solar-telemetry/config"
	"solar-telemetry/internal/api"
	"solar-telemetry/internal/auth"
	"solar-telemetry/internal/cost"
	"solar-telemetry/internal/gateway"
	"solar-telemetry/internal/influx"
	"solar-telemetry/internal/insight"
	"solar-telemetry/internal/jobs"
	"solar-telemetry/internal/logging"
	"solar-telemetry/internal/metrics"
	"solar-telemetry/internal/mqtt"
	"solar-telemetry/internal/poller"
	"solar-telemetry/internal/repository/rabbitmq"
	redisrepo "solar-telemetry/internal/repository/redis"
	"solar-telemetry/internal/repository/s3"
	"solar-telemetry/internal/storage"
	"solar-telemetry/internal/weather"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "solar-telemetry",
		Short: "Solar telemetry aggregation and reporting engine",
		Long:  "Polls inverter gateways, stores telemetry and produces aggregates, exports and monthly reports",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(pruneCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return cfg, logging.New(level, cfg.Logging.Format), nil
}

func openStore(cfg *config.Config) (*storage.Database, *storage.SampleStore, error) {
	db, err := storage.NewDatabase(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	samples := storage.NewSampleStore(db, storage.Bounds{
		MaxACPowerW:     cfg.Validation.MaxACPowerW,
		MinVoltageV:     cfg.Validation.MinVoltageV,
		MaxVoltageV:     cfg.Validation.MaxVoltageV,
		MaxCurrentA:     cfg.Validation.MaxCurrentA,
		MinTemperatureC: cfg.Validation.MinTemperatureC,
		MaxTemperatureC: cfg.Validation.MaxTemperatureC,
	})
	return db, samples, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the telemetry service",
		Long:  "Start the poller, the job coordinator and the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, samples, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			logger.Info("Database opened", zap.String("driver", cfg.Database.Driver))

			m := metrics.New()
			location, _ := time.LoadLocation(cfg.Aggregation.DefaultTimezone)

			engine, err := cost.NewEngine(cost.Factors{
				CO2KgPerKWh:      cfg.Emission.CO2KgPerKWh,
				CO2KgPerTreeYear: cfg.Emission.CO2KgPerTreeYear,
				CoalKgPerKWh:     cfg.Emission.CoalKgPerKWh,
			})
			if err != nil {
				return err
			}

			sinks, closeSinks := buildSinks(ctx, cfg, logger)
			defer closeSinks()

			p := poller.New(poller.Config{
				Inverters:        db,
				Samples:          samples,
				Sinks:            sinks,
				Interval:         cfg.Poller.Interval,
				Timeout:          cfg.Poller.Timeout,
				FailureThreshold: cfg.Poller.FailureThreshold,
				SyncInterval:     cfg.Poller.SyncInterval,
				Metrics:          m,
				Logger:           logger,
			})

			jobCfg := jobs.Config{
				Retention: cfg.Jobs.RetentionPerKind,
				Metrics:   m,
				Logger:    logger,
			}

			var redisClient *redis.Client
			if cfg.Redis.Enabled {
				redisClient, err = redisrepo.NewClient(ctx, redisrepo.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
				if err != nil {
					logger.Warn("Redis unavailable, job status mirror and rate limiting disabled", zap.Error(err))
				} else {
					defer redisClient.Close()
					jobCfg.Observers = append(jobCfg.Observers, redisrepo.NewStatusRepo(redisClient, cfg.Redis.TTL, logger))
				}
			}

			if cfg.RabbitMQ.Enabled {
				conn, err := amqp.Dial(cfg.RabbitMQ.URL)
				if err != nil {
					logger.Warn("RabbitMQ unavailable, job events disabled", zap.Error(err))
				} else {
					defer conn.Close()
					events, err := rabbitmq.NewEventPublisher(conn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, logger)
					if err != nil {
						logger.Warn("Failed to declare job event exchange", zap.Error(err))
					} else {
						defer events.Close()
						jobCfg.Observers = append(jobCfg.Observers, events)
					}
				}
			}

			if cfg.S3.Enabled {
				store, err := s3.NewArtifactRepo(s3.Config{
					Endpoint:  cfg.S3.Endpoint,
					AccessKey: cfg.S3.AccessKey,
					SecretKey: cfg.S3.SecretKey,
					Bucket:    cfg.S3.Bucket,
					Region:    cfg.S3.Region,
					UseSSL:    cfg.S3.UseSSL,
					URLExpiry: cfg.S3.URLExpiry,
				})
				if err == nil {
					err = store.EnsureBucket(ctx)
				}
				if err != nil {
					logger.Warn("Object storage unavailable, artifacts kept in memory", zap.Error(err))
				} else {
					jobCfg.Store = store
				}
			}

			coordinator := jobs.NewCoordinator(jobCfg)

			var provider weather.Provider
			if cfg.Weather.Enabled {
				provider = weather.NewCache(weather.NewOpenMeteoClient(cfg.Weather.Latitude, cfg.Weather.Longitude), 10*time.Minute, logger)
			}

			var jwtManager *auth.JWTManager
			if cfg.Auth.JWTSecret != "" {
				jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			} else {
				logger.Warn("No JWT secret configured, serving a single local owner")
			}

			if cfg.Poller.Enabled {
				go func() {
					if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("Poller stopped", zap.Error(err))
					}
				}()
			}

			var server *api.Server
			if cfg.API.Enabled {
				server = api.NewServer(api.ServerConfig{
					Port:            cfg.API.Port,
					Database:        db,
					Samples:         samples,
					Poller:          p,
					GatewayTimeout:  cfg.Poller.Timeout,
					Jobs:            coordinator,
					Costs:           engine,
					DefaultTariff:   cost.Tariff{PricePerKWh: cfg.Tariff.PricePerKWh, Currency: cfg.Tariff.Currency, TaxRate: cfg.Tariff.TaxRate},
					DefaultLocation: location,
					Insights:        insight.NewAnalyzer(samples, provider, logger),
					Report:          api.ReportSettings{Title: cfg.Report.Title, IncludeCharts: cfg.Report.IncludeCharts},
					JWT:             jwtManager,
					RateLimit:       api.RateLimit{Client: redisClient, Limit: cfg.API.RateLimit, Window: cfg.API.RateWindow},
					Metrics:         m,
					Logger:          logger,
				})

				go func() {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("API server error", zap.Error(err))
						stop()
					}
				}()
			}

			logger.Info("Solar telemetry started")
			<-ctx.Done()
			logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if server != nil {
				if err := server.Stop(shutdownCtx); err != nil {
					logger.Warn("API server shutdown", zap.Error(err))
				}
			}
			if err := coordinator.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Job coordinator shutdown", zap.Error(err))
			}
			return nil
		},
	}
}

// buildSinks connects the optional sample sinks. A sink that cannot connect is
// logged and skipped.
func buildSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]poller.Sink, func()) {
	var (
		sinks   []poller.Sink
		closers []func()
	)

	if cfg.MQTT.Enabled {
		publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Enabled:     true,
			Logger:      logger,
		})
		if err != nil {
			logger.Warn("MQTT connection failed", zap.Error(err))
		} else {
			sinks = append(sinks, publisher)
			closers = append(closers, publisher.Close)
		}
	}

	if cfg.Influx.Enabled {
		sink, err := influx.NewSink(ctx, cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, logger)
		if err != nil {
			logger.Warn("InfluxDB unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
			closers = append(closers, sink.Close)
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

func readCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "read <gateway-address>",
		Short: "Read live data once from a gateway",
		Long:  "Connect to an inverter gateway (http(s):// or modbus://host:port?unit=N) and print one reading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := gateway.New(args[0], timeout)
			if err != nil {
				return err
			}
			defer gw.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			reading, err := gw.Live(ctx)
			if err != nil {
				return fmt.Errorf("failed to read data: %w", err)
			}

			output, _ := json.MarshalIndent(reading.ToSample(time.Now()), "", "  ")
			fmt.Println(string(output))
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "gateway timeout")
	return cmd
}

func testCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "test <gateway-address>",
		Short: "Test the connection to a gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Testing connection to %s...\n", args[0])

			gw, err := gateway.New(args[0], timeout)
			if err != nil {
				return err
			}
			defer gw.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			reading, err := gw.Live(ctx)
			if err != nil {
				fmt.Printf("Connection FAILED: %v\n", err)
				return err
			}

			fmt.Println("Connection SUCCESS!")
			fmt.Printf("\nInverter Info:\n")
			fmt.Printf("  Serial Number: %s\n", reading.SerialNumber)
			fmt.Printf("  Status:        %s\n", reading.State)
			fmt.Printf("\nCurrent Values:\n")
			fmt.Printf("  Power:         %.0f W\n", reading.ACPower)
			fmt.Printf("  Daily Energy:  %.1f kWh\n", reading.YieldToday)
			fmt.Printf("  Total Energy:  %.1f kWh\n", reading.YieldTotal)
			fmt.Printf("  Temperature:   %.1f °C\n", reading.Temperature)
			for i, ch := range reading.DCChannels {
				fmt.Printf("  MPPT %d:        %.0f W (%.1f V, %.1f A)\n", i+1, ch.Power, ch.Voltage, ch.Current)
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "gateway timeout")
	return cmd
}

func pruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete samples older than a retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, samples, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			removed, err := samples.Prune(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			logger.Info("Samples pruned", zap.Int64("removed", removed), zap.Duration("older_than", olderThan))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 365*24*time.Hour, "retention period")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <owner-id>",
		Short: "Issue an API token for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer).GenerateToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}
