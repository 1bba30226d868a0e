// Command kcctld runs the cluster controller as a standalone process:
// it elects itself against the coordination service and then drives
// partition/replica state for as long as it holds the controllership.
// Flag and config wiring follows cmd/jocko/main.go's cobra+viper shape.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/config"
	"github.com/kcctl/kcctl/internal/controller"
	"github.com/kcctl/kcctl/internal/coord"
	"github.com/kcctl/kcctl/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "kcctld",
		Short: "run the cluster controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.Int32("broker-id", 0, "this controller's broker id")
	flags.StringSlice("zk-addr", []string{"127.0.0.1:2181"}, "coordination service addresses")
	flags.Duration("zk-session-timeout", 6*time.Second, "coordination service session timeout")
	flags.String("zk-digest-credential", "", "user:pass digest-scheme credential for an ACL'd coordination service")
	flags.Bool("unclean-leader-election", false, "default unclean leader election setting for topics without an override")
	flags.Bool("auto-leader-rebalance", true, "periodically move leadership back to the preferred replica")
	flags.Duration("auto-leader-rebalance-interval", 5*time.Minute, "interval between auto leader rebalance passes")
	flags.Int("leader-imbalance-threshold-pct", 10, "percent of non-preferred-led partitions on a broker that triggers rebalance")
	flags.Int("controlled-shutdown-batch-size", 10, "partitions moved per controlled shutdown batch")
	flags.Int("controlled-shutdown-max-retries", 3, "controlled shutdown retry attempts")

	v.BindPFlags(flags)
	v.SetEnvPrefix("KCCTLD")
	v.AutomaticEnv()

	cmd.AddCommand(newAuthHashCmd())
	return cmd
}

// newAuthHashCmd hashes a zk-digest-credential for safe storage in a
// secrets manager or config file: operators keep the bcrypt hash at
// rest and only hand kcctld the plaintext via --zk-digest-credential or
// KCCTLD_ZK_DIGEST_CREDENTIAL at process start.
func newAuthHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-credential <user:pass>",
		Short: "hash a zk digest credential for storage at rest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := config.HashDigestCredential(args[0])
			if err != nil {
				return fmt.Errorf("hash credential: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func run(v *viper.Viper) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	cfg := config.New(
		config.WithBrokerID(v.GetInt32("broker-id")),
		config.WithZK(v.GetStringSlice("zk-addr"), v.GetDuration("zk-session-timeout"), "/kcctl"),
		config.WithZKDigestCredential(v.GetString("zk-digest-credential")),
		config.WithUncleanLeaderElectionDefault(v.GetBool("unclean-leader-election")),
		config.WithControlledShutdown(v.GetInt("controlled-shutdown-batch-size"), v.GetInt("controlled-shutdown-max-retries"), time.Second),
		config.WithAutoLeaderRebalance(v.GetBool("auto-leader-rebalance"), v.GetDuration("auto-leader-rebalance-interval"), v.GetInt("leader-imbalance-threshold-pct")),
	)

	client, err := coord.NewZKClient(cfg.ZKAddrs, cfg.ZKSessionTTL, cfg.ZKDigestCredential)
	if err != nil {
		return fmt.Errorf("connect to coordination service: %w", err)
	}
	defer client.Close()

	tr := transport.New(fmt.Sprintf("kcctld-%d", cfg.BrokerID))
	kc := controller.New(log, cfg, client, tr)
	kc.Run()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	kc.Close()
	return nil
}
