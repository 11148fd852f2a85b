package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"brick_model_generator/catalog"
	"brick_model_generator/config"
	"brick_model_generator/generator"
	"brick_model_generator/model"
	"brick_model_generator/progress"
	"brick_model_generator/server"
	"brick_model_generator/store"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

func main() {
	klog.InitFlags(nil)
	configPath := flag.String("config", "config/config.json", "path to config.json")
	prompt := flag.String("prompt", "", "description of the model to build")
	minParts := flag.Int("min", 0, "minimum number of parts (0 = no bound)")
	maxParts := flag.Int("max", 0, "maximum number of parts (0 = no bound)")
	out := flag.String("out", "", "output .ldr path (defaults to a name derived from the title)")
	mock := flag.Bool("mock", false, "use the offline mock model instead of an LLM")
	noCatalog := flag.Bool("no-catalog", false, "skip the Rebrickable part check")
	serve := flag.Bool("serve", false, "start web server")
	addr := flag.String("addr", "", "http listen address when --serve (overrides config.server_addr)")
	flag.Parse()
	defer klog.Flush()

	cfg, err := config.Load(*configPath)
	if err != nil {
		exit(err)
	}
	if *mock {
		cfg.LLM.Provider = "mock"
	}
	llm, err := buildLLM(cfg)
	if err != nil {
		exit(err)
	}
	agent, err := generator.NewAgent(llm)
	if err != nil {
		exit(err)
	}
	enricher, err := buildEnricher(cfg, *noCatalog)
	if err != nil {
		exit(err)
	}

	pipeline := &generator.Pipeline{Agent: agent}
	if enricher != nil {
		pipeline.Enricher = enricher
	}

	// Web server mode
	if *serve {
		records, closeStore, err := buildStore(cfg)
		if err != nil {
			exit(err)
		}
		defer closeStore()
		pipeline.NewEstimator = func() *progress.Estimator {
			return progress.New(progress.WithEstimatedTotal(cfg.EstimatedTotal()))
		}
		srv, err := server.New(pipeline, records, cfg.GenerationTimeout())
		if err != nil {
			exit(err)
		}
		listen := cfg.ServerAddr
		if *addr != "" {
			listen = *addr
		}
		if listen == "" {
			listen = ":8080"
		}
		klog.Infof("Starting web server on %s", listen)
		if err := http.ListenAndServe(listen, srv.Routes()); err != nil {
			exit(err)
		}
		return
	}

	if *prompt == "" {
		exit(fmt.Errorf("--prompt is required (or use --serve)"))
	}
	opts := model.GenerationOptions{Prompt: *prompt, MinParts: *minParts, MaxParts: *maxParts}
	if err := opts.Validate(); err != nil {
		exit(err)
	}

	pipeline.NewEstimator = func() *progress.Estimator {
		return progress.New(
			progress.WithEstimatedTotal(cfg.EstimatedTotal()),
			progress.WithObserver(func(s progress.State) {
				fmt.Fprintf(os.Stderr, "\r%3.0f%% %-40s ~%ds left", s.Percent, s.Stage, s.Remaining)
			}),
		)
	}

	ctx := context.Background()
	if d := cfg.GenerationTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	klog.V(1).Infof("[cli] generating prompt=%q min=%d max=%d provider=%s", opts.Prompt, opts.MinParts, opts.MaxParts, cfg.LLM.Provider)
	sess := generator.NewSession("cli", opts, pipeline)
	res, err := sess.Run(ctx)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		exit(err)
	}

	path := *out
	if path == "" {
		path = res.Filename
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			exit(err)
		}
	}
	if err := os.WriteFile(path, []byte(res.LDR.Content), 0o644); err != nil {
		exit(err)
	}

	if v := res.Set.Validation; v != nil && v.Error == "" && enricher != nil {
		fmt.Fprintf(os.Stderr, "catalog: %d / %d part types verified (%s)\n", v.VerifiedCount, v.TotalCount, res.Enrichment)
	} else if v != nil && v.Error != "" {
		fmt.Fprintf(os.Stderr, "catalog: %s\n", v.Error)
	}
	klog.V(1).Infof("[cli] wrote %s title=%q", path, res.Set.Title)
	fmt.Fprintf(os.Stderr, "wrote %s\n", path)
	fmt.Println(res.LDR.SHA256)
}

func exit(err error) {
	fmt.Fprintln(os.Stderr, err)
	klog.Flush()
	os.Exit(1)
}

func buildLLM(cfg config.Config) (generator.LLMClient, error) {
	settings := &generator.LLMSettings{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		MaxTokens: cfg.LLM.MaxTokens,
	}
	switch cfg.LLM.Provider {
	case "mock":
		return generator.MockLLM{}, nil
	case "openai":
		return generator.NewOpenAILLMFromConfig(settings)
	case "gemini":
		// Gemini exposes an OpenAI-compatible endpoint.
		if settings.BaseURL == "" {
			settings.BaseURL = geminiBaseURL
		}
		return generator.NewOpenAILLMFromConfig(settings)
	case "deepseek":
		if settings.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return generator.NewOpenAILLMFromConfig(settings)
	case "":
		return nil, fmt.Errorf("llm config missing; please set llm.provider/model/api_key in config")
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.LLM.Provider)
	}
}

// buildEnricher returns nil when the catalog check is off or no key is configured.
func buildEnricher(cfg config.Config, disabled bool) (*catalog.Enricher, error) {
	if disabled || cfg.Catalog.APIKey == "" {
		klog.V(1).Info("[cli] catalog check disabled")
		return nil, nil
	}
	client, err := catalog.NewClient(cfg.Catalog.APIKey, cfg.Catalog.BaseURL, &http.Client{Timeout: cfg.CatalogTimeout()})
	if err != nil {
		return nil, err
	}
	return catalog.NewEnricher(catalog.NewCachedLookup(client)), nil
}

func buildStore(cfg config.Config) (store.Store, func(), error) {
	if cfg.Database.Path == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	klog.Infof("Using SQLite store at %s", cfg.Database.Path)
	return db, func() {
		if err := db.Close(); err != nil {
			klog.Errorf("close store: %v", err)
		}
	}, nil
}
