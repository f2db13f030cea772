// Command smssend sends a single SMS straight through a configured provider
// adapter, bypassing the gateway. It is meant for checking vendor credentials.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/af-corp/sms-gateway/internal/config"
	"github.com/af-corp/sms-gateway/internal/router"
	"github.com/af-corp/sms-gateway/internal/telemetry"
	"github.com/af-corp/sms-gateway/internal/types"
)

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	provider := flag.String("provider", "iletimerkezi", "provider name from providers.yaml")
	to := flag.String("to", "", "recipient phone number (required)")
	text := flag.String("message", "", "message text (required)")
	key := flag.String("key", "", "override the configured API key for this send")
	hash := flag.String("hash", "", "override the configured API hash for this send")
	sender := flag.String("sender", "", "override the configured originator for this send")
	timeout := flag.Duration("timeout", 15*time.Second, "overall send timeout")
	async := flag.Bool("async", false, "send through the asynchronous API")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if *to == "" || *text == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -to and -message are required")
		os.Exit(2)
	}

	logger := telemetry.NewLogger(*logLevel, "text")

	providers, err := config.LoadProviders(filepath.Join(*configDir, config.ProvidersFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	registry, err := router.BuildFromConfig(providers, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	adapter, ok := registry.Get(*provider)
	if !ok {
		fmt.Fprintf(os.Stderr, "error: unknown provider %q (have %v)\n", *provider, registry.Names())
		os.Exit(1)
	}

	data := types.ProviderData{}
	for k, v := range map[string]string{
		types.ProviderDataKey:       *key,
		types.ProviderDataHash:      *hash,
		types.ProviderDataOrginator: *sender,
	} {
		if v != "" {
			data[k] = v
		}
	}
	msg := &types.MessageBody{To: *to, Content: *text, ProviderData: data}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var result types.SendingResult
	if *async {
		result = <-adapter.SendAsync(ctx, msg)
	} else {
		result = adapter.SendContext(ctx, msg)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "error: encode result: %v\n", err)
		os.Exit(1)
	}
	if !result.IsSuccess() {
		os.Exit(1)
	}
}
