// Package bootstrap wires repositories, stores, clients, and services into
// a runnable application for both the API and the worker.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"disclosure-backend/internal/classify"
	"disclosure-backend/internal/comparisons"
	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/embedding"
	"disclosure-backend/internal/extract"
	"disclosure-backend/internal/llm"
	openai "disclosure-backend/internal/llm/openai"
	"disclosure-backend/internal/progress"
	"disclosure-backend/internal/queue"
	"disclosure-backend/internal/retention"
	"disclosure-backend/internal/shared/config"
	"disclosure-backend/internal/shared/server"
	"disclosure-backend/internal/shared/storage/object"
	localstore "disclosure-backend/internal/shared/storage/object/local"
	s3store "disclosure-backend/internal/shared/storage/object/s3"
	"disclosure-backend/internal/structuring"
	"disclosure-backend/internal/templates"
	"disclosure-backend/internal/workerproc"
)

// App holds shared dependencies. Router is only wired for the API process.
type App struct {
	Config config.Config
	Router *gin.Engine

	Store     object.ObjectStore
	Queue     queue.Client
	Consumer  queue.Consumer
	Progress  progress.Reporter
	Templates *templates.Registry
	LLM       llm.Client
	Embedder  embedding.Embedder

	DocumentsRepo   documents.Repo
	ComparisonsRepo comparisons.Repo

	DocumentsService   *documents.Service
	ComparisonsService *comparisons.Service
	Structuring        *structuring.Service
	Processor          *workerproc.Processor
	Sweeper            *retention.Sweeper
}

// Options control which optional pieces Build requires.
type Options struct {
	// RequireLLM makes a missing API key fatal. The worker sets this; the
	// API can serve uploads and reads without a model.
	RequireLLM bool
	// WireRouter attaches HTTP routes.
	WireRouter bool
}

// Build prepares shared dependencies.
func Build(cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if err := cfg.Validate(opts.RequireLLM); err != nil {
		return nil, err
	}
	ctx := context.Background()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg, err := templates.NewRegistry(cfg.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	docsRepo, err := documents.NewFileRepo(filepath.Join(cfg.DataDir, "documents"))
	if err != nil {
		return nil, err
	}
	cmpRepo, err := comparisons.NewFileRepo(filepath.Join(cfg.DataDir, "comparisons"))
	if err != nil {
		return nil, err
	}
	reporter, err := progress.NewFileReporter(filepath.Join(cfg.DataDir, "progress"))
	if err != nil {
		return nil, err
	}

	llmClient, embedder := buildModelClients(cfg)

	redisQueue, err := queue.NewRedisQueue(ctx, cfg.RedisAddr, cfg.RedisPassword, "")
	var (
		sender   queue.Client
		consumer queue.Consumer
	)
	if err != nil {
		if !isDevLike(cfg.Env) {
			return nil, err
		}
		log.Printf("bootstrap: redis unavailable, using in-process queue: %v", err)
		mem := queue.NewMemoryQueue(0)
		sender, consumer = mem, mem
	} else {
		sender, consumer = redisQueue, redisQueue
	}

	app := &App{
		Config:          cfg,
		Store:           store,
		Queue:           sender,
		Consumer:        consumer,
		Progress:        reporter,
		Templates:       reg,
		LLM:             llmClient,
		Embedder:        embedder,
		DocumentsRepo:   docsRepo,
		ComparisonsRepo: cmpRepo,
	}
	buildServices(app)

	if opts.WireRouter {
		app.Router = server.NewRouter(server.RouterDeps{
			Config:             cfg,
			DocumentsHandler:   documents.NewHandler(app.DocumentsService),
			ComparisonsHandler: comparisons.NewHandler(app.ComparisonsService),
		})
	}
	return app, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.UploadDir), nil
	}
}

// buildModelClients returns the LLM client and embedder, or nil clients
// when no API key is configured (keyword-only classification, no analysis).
func buildModelClients(cfg config.Config) (llm.Client, embedding.Embedder) {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		log.Printf("bootstrap: OPENAI_API_KEY empty; model-backed stages disabled")
		return nil, embedding.LocalEmbedder{}
	}
	client, err := openai.NewClient(openai.Options{
		APIKey:          cfg.OpenAIAPIKey,
		Model:           cfg.OpenAIModel,
		TimeoutSeconds:  cfg.OpenAITimeoutSeconds,
		Provider:        cfg.OpenAIProvider,
		AzureEndpoint:   cfg.AzureEndpoint,
		AzureAPIVersion: cfg.AzureAPIVersion,
	})
	if err != nil {
		log.Printf("bootstrap: llm client unavailable: %v", err)
		return nil, embedding.LocalEmbedder{}
	}

	var embedder embedding.Embedder = embedding.LocalEmbedder{}
	if oe, err := embedding.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.OpenAITimeoutSeconds); err == nil {
		embedder = oe
	} else {
		log.Printf("bootstrap: embedder unavailable, using local fallback: %v", err)
	}
	return llm.WithRetry(client), embedder
}

func buildServices(app *App) {
	cfg := app.Config
	classifier := classify.New(app.Templates, app.LLM, cfg.ClassificationUseLLM, cfg.ClassificationMaxPromptChars)

	app.DocumentsService = &documents.Service{
		Repo:           app.DocumentsRepo,
		Store:          app.Store,
		Classifier:     classifierAdapter{classifier},
		Sampler:        textSampler{extract.NewTextExtractor()},
		Queue:          app.Queue,
		Progress:       app.Progress,
		MaxFiles:       cfg.UploadMaxFiles,
		MaxFileSizeMB:  cfg.UploadMaxFileSizeMB,
		RetentionHours: cfg.RetentionHours,
	}

	app.ComparisonsService = comparisons.NewService(
		app.ComparisonsRepo, app.DocumentsRepo, app.Progress, app.LLM, app.Embedder, app.Templates)
	app.ComparisonsService.Queue = app.Queue

	app.Structuring = structuring.New(app.DocumentsRepo, app.Store, app.Templates, app.LLM, app.Progress)

	app.Processor = &workerproc.Processor{
		Structuring: app.Structuring,
		Comparisons: app.ComparisonsService,
	}
	app.Sweeper = &retention.Sweeper{
		Documents:   app.DocumentsRepo,
		Comparisons: app.ComparisonsRepo,
		Store:       app.Store,
		Progress:    app.Progress,
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

// classifierAdapter projects the classifier verdict into the documents
// package's view of it.
type classifierAdapter struct {
	c *classify.Classifier
}

func (a classifierAdapter) Classify(ctx context.Context, filename, textSample string) documents.ClassificationResult {
	res := a.c.Classify(ctx, filename, textSample)
	return documents.ClassificationResult{
		DocumentType:    res.DocumentType,
		DisplayName:     res.DisplayName,
		Confidence:      res.Confidence,
		MatchedKeywords: res.MatchedKeywords,
		Reason:          res.Reason,
	}
}

func (a classifierAdapter) DisplayName(docType string) string { return a.c.DisplayName(docType) }

func (a classifierAdapter) IsSupportedType(docType string) bool { return a.c.IsSupportedType(docType) }

// textSampler extracts the head of a PDF for classification.
type textSampler struct {
	ex *extract.TextExtractor
}

func (s textSampler) SamplePages(ctx context.Context, pdfPath string, maxPages int) (string, error) {
	res, err := s.ex.ExtractPageRange(ctx, pdfPath, 1, maxPages)
	if err != nil {
		return "", err
	}
	return res.FullText, nil
}
