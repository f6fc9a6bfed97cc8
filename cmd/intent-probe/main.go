// Command intent-probe classifies sample phrases with the configured intent
// model so a provider can be checked before it is switched on.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wolfman30/dental-booking-agent/cmd/mainconfig"
	"github.com/wolfman30/dental-booking-agent/internal/app/bootstrap"
	"github.com/wolfman30/dental-booking-agent/internal/session"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

var samples = []string{
	"I'd like to book a cleaning next Tuesday",
	"what appointments do I have",
	"can I move my appointment to friday",
	"please cancel my second appointment",
	"yes",
	"what's the weather like",
}

func main() {
	cfg := mainconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	classifier, release := bootstrap.BuildClassifier(ctx, cfg, mainconfig.OptionalAWS(ctx, cfg, logger), logger)
	defer release()

	phrases := samples
	if len(os.Args) > 1 {
		phrases = []string{strings.Join(os.Args[1:], " ")}
	}

	provider := cfg.IntentModelProvider
	if provider == "" {
		provider = "rules only"
	}
	fmt.Printf("intent provider: %s\n\n", provider)
	for _, phrase := range phrases {
		start := time.Now()
		res := classifier.Classify(ctx, phrase, session.StepMainMenu)
		fmt.Printf("%-45q -> %-24s conf=%.2f method=%s (%s)\n",
			phrase, res.Intent, res.Confidence, res.Method, time.Since(start).Round(time.Millisecond))
		if res.Entities.Date != "" || res.Entities.Time != "" || res.Entities.Ordinal > 0 {
			fmt.Printf("%47s date=%s time=%s ordinal=%d\n", "", res.Entities.Date, res.Entities.Time, res.Entities.Ordinal)
		}
	}
}
