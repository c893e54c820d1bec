// Command kasocki-server runs the websocket bridge described in
// SPEC_FULL.md: one long-lived session.Session per accepted
// connection, each bound to its own Kafka broker handle.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "kasocki-server",
	Short: "kasocki bridges a Kafka log to long-lived socket sessions",
	Long: `kasocki-server accepts websocket connections and gives each one its
own consumer session: explicit topic/partition assignment, server-side
structural filtering, and pull or push delivery of JSON events.`,
}

func init() {
	rootCmd.Version = "0.1.0"
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("kasocki-server exited with error", "error", err)
		os.Exit(1)
	}
}

func init() {
	serveCmd.Flags().String("listen", "0.0.0.0:8090", "HTTP listen address for websocket upgrades")
	serveCmd.Flags().String("brokers", "localhost:9092", "Kafka bootstrap.servers")
	serveCmd.Flags().String("session-config", "", "path to a sessionconfig YAML template (optional)")
	serveCmd.Flags().String("offset-reset", "latest", "auto.offset.reset used when the session config's default_topic_config does not set it")
	serveCmd.Flags().String("metrics", "otel", "metrics sink: otel, redis, both, or none")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address when --metrics includes redis")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("brokers", serveCmd.Flags().Lookup("brokers"))
	viper.BindPFlag("session_config", serveCmd.Flags().Lookup("session-config"))
	viper.BindPFlag("offset_reset", serveCmd.Flags().Lookup("offset-reset"))
	viper.BindPFlag("metrics", serveCmd.Flags().Lookup("metrics"))
	viper.BindPFlag("redis_addr", serveCmd.Flags().Lookup("redis-addr"))

	viper.SetEnvPrefix("kasocki")
	viper.AutomaticEnv()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the websocket bridge server",
	Long: `Start accepting websocket connections on --listen, each upgraded to
its own kasocki session against the Kafka cluster at --brokers.

Example:
  kasocki-server serve --listen 0.0.0.0:8090 --brokers kafka-1:9092,kafka-2:9092`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(buildServeConfig())
	},
}

func buildServeConfig() serveConfig {
	return serveConfig{
		Listen:         viper.GetString("listen"),
		Brokers:        viper.GetString("brokers"),
		SessionConfig:  viper.GetString("session_config"),
		OffsetReset:    viper.GetString("offset_reset"),
		MetricsBackend: viper.GetString("metrics"),
		RedisAddr:      viper.GetString("redis_addr"),
	}
}
