// Command marketfetch runs a one-shot chunked pull of marketplace
// seller statistics for a date range and prints a per-task summary.
//
// Credentials come from the environment (WB_TOKEN, OZON_CLIENT_ID,
// OZON_API_KEY); the range and the api types come from flags. With
// METRICS_ADDR set, Prometheus metrics are served for the duration of
// the run.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sellerpulse/marketfetch/pkg/availability"
	"github.com/sellerpulse/marketfetch/pkg/cache"
	"github.com/sellerpulse/marketfetch/pkg/chunker"
	"github.com/sellerpulse/marketfetch/pkg/fetcher"
	"github.com/sellerpulse/marketfetch/pkg/logging"
	"github.com/sellerpulse/marketfetch/pkg/marketapi"
	"github.com/sellerpulse/marketfetch/pkg/orchestrator"
	"github.com/sellerpulse/marketfetch/pkg/profile"
	"github.com/sellerpulse/marketfetch/pkg/ratelimit"
)

func main() {
	logging.Setup(logging.FromEnv())
	logger := logging.NewLogger("cli")

	var (
		fromStr  = flag.String("from", "", "start date, YYYY-MM-DD")
		toStr    = flag.String("to", "", "end date, YYYY-MM-DD (inclusive)")
		apisStr  = flag.String("apis", "wb_sales", "comma separated api types: wb_sales, wb_orders, wb_adv, ozon_orders")
		profiles = flag.String("profiles", "", "optional YAML file overriding the compiled API profiles")
		timeout  = flag.Duration("timeout", 15*time.Minute, "overall operation deadline")
	)
	flag.Parse()

	dr, err := chunker.ParseDateRange(*fromStr, *toStr)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid -from/-to range")
	}

	registry := profile.NewRegistry()
	if *profiles != "" {
		if err := registry.LoadFile(*profiles); err != nil {
			logger.Fatal().Err(err).Str("path", *profiles).Msg("Failed to load profile config")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		go serveMetrics(addr, logger)
	}

	limiter := ratelimit.New(registry, logging.NewLogger("ratelimit"))
	latch := availability.NewRegistry(logging.NewLogger("availability"))

	fcfg := fetcher.DefaultConfig()
	fcfg.Cache = setupCache(ctx, logger)

	f := fetcher.New(registry, limiter, latch, fcfg, logging.NewLogger("fetcher"))

	ocfg := orchestrator.DefaultConfig()
	ocfg.OperationTimeout = *timeout
	orch := orchestrator.New(f, latch, ocfg, logging.NewLogger("orchestrator"))

	tasks, err := buildTasks(strings.Split(*apisStr, ","), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build tasks")
	}

	res, err := orch.Run(ctx, dr.From, dr.To, tasks)
	if err != nil {
		logger.Fatal().Err(err).Msg("Fetch failed")
	}

	printSummary(res)
	if res.Failed() > 0 {
		os.Exit(1)
	}
}

// buildTasks maps api type names to fetch tasks against the configured
// marketplace clients. Clients are created lazily so a WB-only run does
// not require Ozon credentials.
func buildTasks(apiTypes []string, logger zerolog.Logger) ([]orchestrator.Task, error) {
	var (
		tasks []orchestrator.Task
		wb    *marketapi.WBClient
		ozon  *marketapi.OzonClient
		err   error
	)

	getWB := func() (*marketapi.WBClient, error) {
		if wb != nil {
			return wb, nil
		}
		token := os.Getenv("WB_TOKEN")
		if token == "" {
			return nil, fmt.Errorf("WB_TOKEN is not set")
		}
		wb, err = marketapi.NewWB(marketapi.WBConfig{Token: token}, logging.NewLogger("wb"))
		return wb, err
	}
	getOzon := func() (*marketapi.OzonClient, error) {
		if ozon != nil {
			return ozon, nil
		}
		clientID, apiKey := os.Getenv("OZON_CLIENT_ID"), os.Getenv("OZON_API_KEY")
		if clientID == "" || apiKey == "" {
			return nil, fmt.Errorf("OZON_CLIENT_ID / OZON_API_KEY are not set")
		}
		ozon, err = marketapi.NewOzon(marketapi.OzonConfig{ClientID: clientID, APIKey: apiKey}, logging.NewLogger("ozon"))
		return ozon, err
	}

	for _, apiType := range apiTypes {
		apiType = strings.TrimSpace(apiType)
		switch apiType {
		case profile.WBSales:
			c, err := getWB()
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, orchestrator.Task{
				Name:    "wb-sales",
				APIType: apiType,
				Fn:      c.SalesFetch(),
				Options: &fetcher.Options{Codec: marketapi.SalesCodec()},
			})
		case profile.WBOrders:
			c, err := getWB()
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, orchestrator.Task{
				Name:    "wb-orders",
				APIType: apiType,
				Fn:      c.OrdersFetch(),
				Options: &fetcher.Options{Codec: marketapi.OrdersCodec()},
			})
		case profile.WBAdv:
			c, err := getWB()
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, orchestrator.Task{
				Name:    "wb-adv",
				APIType: apiType,
				Fn:      c.AdvStatsFetch(),
			})
		case profile.OzonOrders:
			c, err := getOzon()
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, orchestrator.Task{
				Name:    "ozon-postings",
				APIType: apiType,
				Fn:      c.PostingsFetch(),
				Options: &fetcher.Options{Codec: marketapi.PostingsCodec()},
			})
		default:
			return nil, fmt.Errorf("unknown api type %q", apiType)
		}
	}
	return tasks, nil
}

// setupCache connects to Redis when REDIS_URL is set. The cache is
// optional: without it every chunk is fetched fresh.
func setupCache(ctx context.Context, logger zerolog.Logger) *cache.Manager {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", addr).Msg("Redis unreachable, running without cache")
		return nil
	}
	logger.Info().Str("addr", addr).Msg("Chunk cache enabled")
	return cache.NewManager(client)
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Metrics server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func printSummary(res *orchestrator.Result) {
	fmt.Printf("op %s (%s", res.OpID, res.Strategy)
	if res.Sequential {
		fmt.Printf(", sequential fallback")
	}
	fmt.Printf(")\n")
	for _, task := range res.Tasks {
		if task.Err != nil {
			fmt.Printf("  %-14s FAILED: %v\n", task.Name, task.Err)
			continue
		}
		fmt.Printf("  %-14s %d records, %d duplicates, %d suspicious, %d/%d chunks failed\n",
			task.Name,
			len(task.Data.Records),
			task.Data.DuplicateCount,
			task.Data.SuspiciousCount,
			task.Report.FailedChunks(),
			len(task.Report.Chunks),
		)
	}
}
