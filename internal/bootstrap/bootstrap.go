package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/trade-evidence/internal/catalog"
	"github.com/kirillkom/trade-evidence/internal/config"
	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
	"github.com/kirillkom/trade-evidence/internal/core/usecase"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/extractor"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/extractor/ocrhttp"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/extractor/sheet"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/llm"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/lock"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/queue/nats"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/resilience"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/trade-evidence/internal/observability/metrics"
)

// Options tune wiring per binary.
type Options struct {
	// Service labels pipeline metrics.
	Service string
	// Registerer receives pipeline metrics. Nil disables them.
	Registerer prometheus.Registerer
}

type App struct {
	Config  config.Config
	Catalog *domain.Catalog

	Queue ports.MessageQueue
	Pages ports.PageStore
	Audit *postgres.AuditRepository

	Cases     ports.CaseManager
	Ingest    ports.DocumentIngestor
	Documents ports.DocumentReader
	Processor ports.DocumentProcessor
	Evaluator ports.CaseEvaluator
	Review    ports.FieldReviewer
	Readiness ports.ReadinessReporter

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg}
	ready := false
	defer func() {
		if !ready {
			app.Close()
		}
	}()

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	app.Catalog = cat

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	cases := postgres.NewCaseRepository(db)
	docs := postgres.NewDocumentRepository(db)
	fields := postgres.NewFieldRepository(db)
	checklist := postgres.NewChecklistRepository(db)
	audit := postgres.NewAuditRepository(db)
	app.Pages = docs
	app.Audit = audit

	locker, err := newCaseLocker(cfg.LockBackend, db)
	if err != nil {
		return nil, err
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		QueueGroup:         cfg.NATSQueueGroup,
		MaxDeliveries:      cfg.NATSMaxDeliveries,
		RedeliveryDelay:    time.Duration(cfg.NATSRedeliveryMs) * time.Millisecond,
		ResilienceExecutor: newExecutor(cfg, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.onClose(queue.Close)
	app.Queue = queue

	du, err := newDocumentUnderstanding(cfg, newExecutor(cfg, cfg.AICallTimeout))
	if err != nil {
		return nil, err
	}

	var ocr extractor.Recognizer
	if strings.TrimSpace(cfg.OCRURL) != "" {
		ocr = ocrhttp.New(cfg.OCRURL, cfg.OCRTimeout, newExecutor(cfg, cfg.OCRTimeout))
	}
	renderer := extractor.NewRouter(pdf.NewRenderer(cfg.PDFMaxPages), sheet.NewRenderer(), plaintext.NewRenderer(), ocr)

	var observer ports.PipelineObserver = usecase.NoopObserver{}
	if opts.Registerer != nil {
		observer = metrics.NewPipelineMetrics(opts.Service, opts.Registerer)
	}

	projector, err := newProjector(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closer, ok := projector.(interface{ close() }); ok {
		app.onClose(closer.close)
	}

	evaluator := usecase.NewCaseEvaluatorService(cases, docs, fields, checklist, locker, cat, observer, projector)
	classifier := usecase.NewClassifier(cat, du, cfg.ClassifyMaxPages)
	orchestrator := usecase.NewExtractionOrchestrator(cases, docs, fields, du, cat, observer, cfg.ExtractConcurrency, cfg.AICallTimeout)
	processor := usecase.NewProcessDocumentUseCase(docs, docs, storage, queue, renderer, classifier, orchestrator, evaluator, audit, observer, cfg.ProcessConcurrency)

	app.Cases = usecase.NewCaseService(cases, audit, evaluator, cat)
	app.Ingest = usecase.NewIngestDocumentUseCase(cases, docs, storage, queue, audit, evaluator, cfg.MaxUploadBytes)
	app.Documents = processor
	app.Processor = processor
	app.Evaluator = evaluator
	app.Review = usecase.NewReviewUseCase(cases, docs, docs, fields, checklist, audit, evaluator, cat, domain.Tier(strings.ToUpper(cfg.BuyerMinVisibleTier)))
	app.Readiness = usecase.NewReadinessUseCase(cases, docs, fields, checklist, cat)

	slog.Info("bootstrap_ready",
		"du_provider", cfg.DUProvider,
		"lock_backend", cfg.LockBackend,
		"ocr_enabled", ocr != nil,
		"graph_enabled", cfg.Neo4jURI != "",
	)
	ready = true
	return app, nil
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func loadCatalog(path string) (*domain.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		cat, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("load default catalog: %w", err)
		}
		return cat, nil
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return cat, nil
}

func newCaseLocker(backend string, db *sql.DB) (ports.CaseLocker, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "postgres":
		return postgres.NewCaseLocker(db), nil
	case "memory":
		return lock.NewKeyedMutex(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", backend)
	}
}

func newExecutor(cfg config.Config, attemptTimeout time.Duration) *resilience.Executor {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	rc.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	rc.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	rc.BreakerEnabled = cfg.ResilienceBreakerEnabled
	rc.BreakerFailureRatio = cfg.ResilienceBreakerFailureRatio
	rc.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	rc.AttemptTimeout = attemptTimeout
	if cfg.ResilienceAttemptTimeout > 0 {
		rc.AttemptTimeout = cfg.ResilienceAttemptTimeout
	}
	return resilience.NewExecutor(rc)
}

func newDocumentUnderstanding(cfg config.Config, executor *resilience.Executor) (ports.DocumentUnderstanding, error) {
	var inner ports.DocumentUnderstanding
	provider := strings.ToLower(strings.TrimSpace(cfg.DUProvider))
	switch provider {
	case "", "ollama":
		provider = "ollama"
		inner = ollama.NewDocumentUnderstanding(ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.AICallTimeout))
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, fmt.Errorf("DU_PROVIDER=anthropic requires ANTHROPIC_API_KEY")
		}
		inner = anthropic.New(anthropic.Options{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			BaseURL:   cfg.AnthropicURL,
			MaxTokens: int64(cfg.AnthropicTokens),
		})
	default:
		return nil, fmt.Errorf("unknown document understanding provider %q", cfg.DUProvider)
	}
	return llm.NewGuard(provider, inner, cfg.DURatePerSecond, cfg.DUBurst, executor), nil
}

type graphProjector struct {
	*neo4j.Projector
	runner *neo4j.DriverRunner
}

func (g graphProjector) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.runner.Close(ctx); err != nil {
		slog.Warn("neo4j_close_failed", "error", err.Error())
	}
}

func newProjector(ctx context.Context, cfg config.Config) (ports.EvidenceProjector, error) {
	if strings.TrimSpace(cfg.Neo4jURI) == "" {
		return usecase.NoopProjector{}, nil
	}
	runner, err := neo4j.NewDriverRunner(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
	if err != nil {
		return nil, fmt.Errorf("init evidence graph: %w", err)
	}
	return graphProjector{Projector: neo4j.NewProjector(runner), runner: runner}, nil
}
