package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/agentsquad"
	"github.com/hupe1980/agentsquad/config"
	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/group"
	"github.com/hupe1980/agentsquad/logging"
	"github.com/hupe1980/agentsquad/model"
	"github.com/hupe1980/agentsquad/model/anthropic"
	"github.com/hupe1980/agentsquad/model/openai"
)

type app struct {
	cfg     *config.Config
	squad   *agentsquad.Squad
	logger  logging.Logger
	metrics *http.Server
}

func wireApp(cfg *config.Config, logOutput io.Writer) (*app, error) {
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     cfg.LogLevel(),
		Format:    cfg.Log.Format,
		Output:    logOutput,
		Component: "agentsquad",
	})

	factory, err := modelFactory(cfg)
	if err != nil {
		return nil, err
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Addr != "" {
		registry = prometheus.NewRegistry()
	}

	squad, err := agentsquad.New(func(o *agentsquad.Options) {
		o.Factory = factory
		o.Stream = cfg.Stream
		o.MaxHistory = cfg.MaxHistory
		o.MaxCalls = cfg.MaxCalls
		o.SessionConfig = cfg.SessionSettings()
		o.DispatchConfig = cfg.DispatchSettings()
		o.ReflectionConfig = cfg.ReflectionSettings()
		o.EvaluatorModel = cfg.Reflection.EvaluatorModel
		o.StorePath = cfg.Store.Path
		o.StoreDelay = cfg.Store.Delay
		o.MetricsNamespace = cfg.Metrics.Namespace
		o.Logger = logger
		if registry != nil {
			o.Registerer = registry
		}
	})
	if err != nil {
		return nil, fmt.Errorf("wire squad: %w", err)
	}

	a := &app{cfg: cfg, squad: squad, logger: logger}

	if registry != nil {
		srv, err := serveMetrics(cfg.Metrics.Addr, registry, logger)
		if err != nil {
			_ = squad.Close()
			return nil, err
		}
		a.metrics = srv
	}

	return a, nil
}

func (a *app) close() error {
	var errs []error
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	errs = append(errs, a.squad.Close())
	return errors.Join(errs...)
}

func modelFactory(cfg *config.Config) (model.Factory, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		var opts []anthropicoption.RequestOption
		if key := cfg.APIKey(); key != "" {
			opts = append(opts, anthropicoption.WithAPIKey(key))
		}
		client := anthropicsdk.NewClient(opts...)
		return anthropic.Factory(&client), nil
	case config.ProviderOpenAI:
		var opts []openaioption.RequestOption
		if key := cfg.APIKey(); key != "" {
			opts = append(opts, openaioption.WithAPIKey(key))
		}
		client := openaisdk.NewClient(opts...)
		return openai.Factory(&client), nil
	case config.ProviderMock:
		return model.MockFactory(nil), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, logger logging.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()

	logger.Info("metrics listening", "addr", ln.Addr().String())
	return srv, nil
}

// groupSpec converts a configured group, filling unset member models with
// the default model.
func groupSpec(cfg *config.Config, gc config.GroupConfig) agentsquad.GroupSpec {
	spec := agentsquad.GroupSpec{
		Name:           gc.Name,
		Mode:           group.Mode(gc.Mode),
		SharedContext:  gc.SharedContext,
		RoutingContext: gc.RoutingContext,
	}
	for _, m := range gc.Members {
		modelName := m.Model
		if modelName == "" {
			modelName = cfg.Model
		}
		spec.Members = append(spec.Members, agentsquad.MemberSpec{
			Session: core.SessionSpec{
				Name:       m.Name,
				Model:      modelName,
				WorkingDir: m.WorkingDir,
			},
			Role:           group.Role(m.Role),
			PreferredModel: m.PreferredModel,
			SystemPrompt:   m.SystemPrompt,
			Specialization: m.Specialization,
		})
	}
	return spec
}
