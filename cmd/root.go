package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/isofetch/internal/output"
	"github.com/tanq16/isofetch/internal/scheduler"
	"github.com/tanq16/isofetch/internal/transfer"
	"github.com/tanq16/isofetch/internal/utils"
)

var (
	connectTimeout time.Duration
	kaTimeout      time.Duration
	userAgent      string
	proxyURL       string
	proxyUsername  string
	proxyPassword  string
	headers        []string
	limit          string
	retryDelay     time.Duration
	debug          bool

	globalHTTPConfig utils.HTTPClientConfig
	bandwidthLimit   int64
	jobSignals       = transfer.NewSignals()
)

var IsofetchVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "isofetch",
	Short:   "isofetch is a resumable CLI downloader for large images",
	Version: IsofetchVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		if userAgent == "randomize" {
			userAgent = utils.GetRandomUserAgent()
		}
		// Credentials embedded in the proxy URL win unless given explicitly
		if parsedProxy, err := u.Parse(proxyURL); err == nil && parsedProxy.User != nil && proxyUsername == "" {
			proxyUsername = parsedProxy.User.Username()
			if password, set := parsedProxy.User.Password(); set {
				proxyPassword = password
			}
			parsedProxy.User = nil
			proxyURL = parsedProxy.String()
		}
		globalHTTPConfig = utils.HTTPClientConfig{
			ConnectTimeout: connectTimeout,
			KATimeout:      kaTimeout,
			ProxyURL:       proxyURL,
			ProxyUsername:  proxyUsername,
			ProxyPassword:  proxyPassword,
			UserAgent:      userAgent,
			Headers:        utils.ParseHeaderArgs(headers),
		}
		var err error
		if bandwidthLimit, err = utils.ParseBandwidth(limit); err != nil {
			return err
		}
		log.Debug().Str("op", "cmd/root").Int64("limit", bandwidthLimit).Dur("retryDelay", retryDelay).Msg("Configuration loaded")
		return nil
	},
}

func Execute() {
	ctx, stop := handleSignals(context.Background(), jobSignals)
	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newArchCmd())
	rootCmd.AddCommand(newBatchCmd())
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newJob fills in the settings shared by every subcommand.
func newJob(jobType, url, outputPath string) utils.Job {
	return utils.Job{
		JobType:          jobType,
		URL:              url,
		OutputPath:       outputPath,
		HTTPClientConfig: globalHTTPConfig,
		BandwidthLimit:   bandwidthLimit,
		RetryDelay:       retryDelay,
		Metadata:         make(map[string]any),
	}
}

func runJobs(ctx context.Context, jobs []utils.Job) {
	if err := scheduler.Run(ctx, jobs, jobSignals); err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&connectTimeout, "connect-timeout", utils.DefaultConnectTimeout, "Connection timeout (eg. 5s, 1m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser agent)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().StringVar(&limit, "limit", "", "Bandwidth limit per download (eg. 500K, 2M)")
	rootCmd.PersistentFlags().DurationVar(&retryDelay, "retry-delay", transfer.DefaultRetryDelay, "Delay between reconnect attempts")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
