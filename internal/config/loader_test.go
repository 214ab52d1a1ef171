package config_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/okian/rollcall/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("ROLLCALL_ADDR", ":9090")
			_ = os.Setenv("ROLLCALL_QUEUE_SIZE", "500")
			_ = os.Setenv("ROLLCALL_WORKER_COUNT", "3")
			_ = os.Setenv("ROLLCALL_NEARBY_RADIUS_KM", "12.5")
			_ = os.Setenv("ROLLCALL_STORE_DRIVER", "MEMORY")
			_ = os.Setenv("ROLLCALL_KAFKA_BROKERS", "k1:9092,k2:9092")
			_ = os.Setenv("ROLLCALL_STREAM_HEARTBEAT_MS", "250")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
				convey.So(cfg.NearbyRadiusKm, convey.ShouldEqual, 12.5)
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "memory")
				convey.So(cfg.Brokers(), convey.ShouldResemble, []string{"k1:9092", "k2:9092"})
				convey.So(cfg.StreamHeartbeatMS, convey.ShouldEqual, 250)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			tmpFile := createTempConfigFile(t, `
addr: ":7070"
store_driver: postgres
postgres_dsn: postgres://rollcall@localhost/rollcall?sslmode=disable
location_driver: redis
redis_url: redis://localhost:6379/0
catalog_file: /etc/rollcall/events.yaml
jwt_secret: from-file
`)
			_ = os.Setenv("ROLLCALL_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "postgres")
				convey.So(cfg.LocationDriver, convey.ShouldEqual, "redis")
				convey.So(cfg.CatalogFile, convey.ShouldEqual, "/etc/rollcall/events.yaml")
				convey.So(cfg.JWTSecret, convey.ShouldEqual, "from-file")
			})

			convey.Convey("And environment variables override the file", func() {
				_ = os.Setenv("ROLLCALL_ADDR", ":6060")
				_ = os.Setenv("ROLLCALL_JWT_SECRET", "from-env")

				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":6060")
				convey.So(cfg.JWTSecret, convey.ShouldEqual, "from-env")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "postgres")
			})
		})
	})
}

func TestConfigLoaderEdgeCases(t *testing.T) {
	convey.Convey("Given invalid configuration", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		invalid := []struct {
			name, key, value string
		}{
			{"empty addr", "ROLLCALL_ADDR", ""},
			{"zero queue", "ROLLCALL_QUEUE_SIZE", "0"},
			{"negative workers", "ROLLCALL_WORKER_COUNT", "-1"},
			{"zero radius", "ROLLCALL_NEARBY_RADIUS_KM", "0"},
			{"unknown store", "ROLLCALL_STORE_DRIVER", "mongo"},
			{"unknown location store", "ROLLCALL_LOCATION_DRIVER", "postgres"},
			{"postgres without dsn", "ROLLCALL_STORE_DRIVER", "postgres"},
			{"redis without url", "ROLLCALL_STORE_DRIVER", "redis"},
			{"zero heartbeat", "ROLLCALL_STREAM_HEARTBEAT_MS", "0"},
		}

		for _, c := range invalid {
			convey.Convey("When "+c.name, func() {
				_ = os.Setenv(c.key, c.value)
				defer clearConfigEnvVars()

				_, err := config.Load(ctx)

				convey.Convey("Then validation fails", func() {
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}

		convey.Convey("When brokers are set without a topic", func() {
			cfg := config.New()
			cfg.KafkaBrokers = "k1:9092"
			cfg.KafkaTopic = ""
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("ROLLCALL_CONFIG", "/nonexistent/rollcall.yaml")

			_, err := config.Load(ctx)

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the config file is not YAML", func() {
			_ = os.Setenv("ROLLCALL_CONFIG", createTempConfigFile(t, "addr: [unterminated"))

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When a number is not numeric", func() {
			_ = os.Setenv("ROLLCALL_QUEUE_SIZE", "lots")

			_, err := config.Load(ctx)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, "ROLLCALL_") {
			_ = os.Unsetenv(name)
		}
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	tmpFile, err := os.CreateTemp(t.TempDir(), "rollcall-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpFile.Name()
}
