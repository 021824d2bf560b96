package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NatalieWolfe/awoo-diffusion/internal/config"
	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string
	envFile string

	rootCmd = &cobra.Command{
		Use:   "awoo",
		Short: "Ingest post exports and keep a verified local asset cache",
		Long: `awoo ingests a bulk JSON Lines export of posts into a relational store,
selects the posts worth keeping, and keeps a local content-addressed cache of
their assets in line with the digests the store declares.

Runs are idempotent: unchanged records are skipped, cached files are
re-verified, and anything missing or corrupt is fetched again.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.SetVerbose(viper.GetBool("verbose"))
			util.SetQuiet(viper.GetBool("quiet"))
			util.SetColors(!viper.GetBool("no_color"))
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/awoo.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets")
	rootCmd.PersistentFlags().String("db", "", "database file (sqlite) or connection URL (postgres)")
	rootCmd.PersistentFlags().String("dialect", "", "database dialect: sqlite or postgres")
	rootCmd.PersistentFlags().String("cache-dir", "", "asset cache directory")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	// Bind flags to viper
	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("database.dialect", rootCmd.PersistentFlags().Lookup("dialect"))
	viper.BindPFlag("cache.dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("no_color", rootCmd.PersistentFlags().Lookup("no-color"))
}

func initConfig() {
	if err := config.LoadDotEnv(envFile); err != nil {
		util.WarnLog("%v", err)
	}

	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in common locations
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("awoo")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables that match
	config.BindEnv(viper.GetViper())

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	} else if err != nil && cfgFile != "" {
		util.ErrorLog("Failed to read config file %s: %v", cfgFile, err)
		os.Exit(1)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
