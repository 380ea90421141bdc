package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aetherspritee/msirs/internal/config"
)

const version = "1.0.0"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "msirs",
	Short: "Segment and search Mars surface imagery",
	Long: `msirs classifies Mars orbital images window by window and finds similar
images in an indexed collection.

Classification and descriptors come from a model server speaking the
TensorFlow Serving REST protocol. Indexed images are kept in a local
directory or an S3 compatible bucket.

Examples:
  # Dense classification of one image, rendered as a colour map
  msirs segment scene.png -o labels.png

  # Show the tile grid for a 500x500 image
  msirs geometry --height 500 --width 500

  # Index a folder of images, then query it
  msirs populate ./dataset
  msirs retrieve query.jpg -k 8 --stage ./ui

  # Start HTTP server
  msirs serve --port 8080`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.msirs.yaml)")

	// Tiling options
	rootCmd.PersistentFlags().Int("window", 224, "window size in pixels")
	rootCmd.PersistentFlags().Int("step", 4, "step between windows in pixels")
	rootCmd.PersistentFlags().Int("batch", 64, "windows per classifier request")
	rootCmd.PersistentFlags().Int("workers", 4, "concurrent classifier requests")

	// Model options
	rootCmd.PersistentFlags().String("model-url", "http://localhost:8501", "model server base URL")

	// Bind flags to viper
	viper.BindPFlag("tiling.window", rootCmd.PersistentFlags().Lookup("window"))
	viper.BindPFlag("tiling.step", rootCmd.PersistentFlags().Lookup("step"))
	viper.BindPFlag("tiling.batch", rootCmd.PersistentFlags().Lookup("batch"))
	viper.BindPFlag("tiling.workers", rootCmd.PersistentFlags().Lookup("workers"))
	viper.BindPFlag("model.url", rootCmd.PersistentFlags().Lookup("model-url"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".msirs" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".msirs")
	}

	// MSIRS_MODEL_URL overrides model.url
	viper.SetEnvPrefix("msirs")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
