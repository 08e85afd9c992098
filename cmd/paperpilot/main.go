// Command paperpilot runs the paper organization task orchestration core:
// an HTTP control surface in front of the batch coordinator, the organize
// pipeline, and their supporting queues.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/paperpilot/orchestrator/internal/aiclient"
	"github.com/paperpilot/orchestrator/internal/apperrors"
	"github.com/paperpilot/orchestrator/internal/batch"
	"github.com/paperpilot/orchestrator/internal/config"
	"github.com/paperpilot/orchestrator/internal/dispatcher"
	"github.com/paperpilot/orchestrator/internal/executor"
	"github.com/paperpilot/orchestrator/internal/kvstore"
	"github.com/paperpilot/orchestrator/internal/logging"
	"github.com/paperpilot/orchestrator/internal/metadata"
	"github.com/paperpilot/orchestrator/internal/notify"
	"github.com/paperpilot/orchestrator/internal/organize"
	"github.com/paperpilot/orchestrator/internal/otelinit"
	"github.com/paperpilot/orchestrator/internal/queue"
	"github.com/paperpilot/orchestrator/internal/storagefs"
	"github.com/paperpilot/orchestrator/internal/task"
)

func main() {
	cfg := config.Load()
	log := logging.Init(cfg.ServiceName, cfg.JSONLog, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, cfg.ServiceName)
	shutdownMetrics, metricsHandler := otelinit.InitMetrics(ctx, cfg.ServiceName)
	meter := otel.GetMeterProvider().Meter(cfg.ServiceName)

	kv, err := kvstore.Open(cfg.BoltPath, "task_queues", "batches")
	if err != nil {
		log.Error("failed to open durable store", "error", err)
		return
	}
	defer kv.Close()
	store := queue.New(kv, log)

	storage, err := storagefs.New("./data/storage")
	if err != nil {
		log.Error("failed to init storage", "error", err)
		return
	}

	var ai aiclient.Client = aiclient.NoOp{}
	if cfg.AIServiceURL != "" {
		ai = aiclient.NewResilient(aiclient.NewHTTPClient(cfg.AIServiceURL, nil))
	}

	bus := notify.New(log)
	if cfg.NATSURL != "" {
		if nc, err := nats.Connect(cfg.NATSURL); err != nil {
			log.Warn("nats connect failed, remote fan-out disabled", "error", err)
		} else {
			bus = bus.WithRemote(nc)
			defer nc.Close()
		}
	}

	metadataCoord := metadata.New(metadata.Config{PollInterval: 1500 * time.Millisecond})

	organizeHandler := organize.New(ai, storage, bus)
	organizeExecutor := executor.New(executor.Config{
		Namespace:      "organize",
		ExecCap:        cfg.OrganizeExecCap,
		WaitCap:        cfg.OrganizeWaitCap,
		MaxConcurrency: cfg.OrganizeMaxConcurrency,
		Retention:      executor.RetentionPolicy{FixedDuration: 24 * time.Hour},
	}, organizeHandler, store, log, meter)

	disp := dispatcher.New()
	if err := disp.Register(task.KindOrganizePaper, organizeExecutor); err != nil {
		log.Error("failed to register organize executor", "error", err)
		return
	}
	disp.Start()

	organizer := batch.New(batch.Config{MetadataTimeout: cfg.MetadataTimeout}, metadataCoord, disp, storage, bus)

	mux := http.NewServeMux()
	registerRoutes(mux, organizer, metadataCoord, metricsHandler, log)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			cancel()
		}
	}()
	log.Info("paperpilot orchestrator started", "addr", cfg.HTTPAddr)

	<-ctx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if err := disp.Stop(shutdownCtx); err != nil {
		log.Warn("dispatcher stop incomplete", "error", err)
	}
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	log.Info("shutdown complete")
}

type batchRequest struct {
	Papers  []task.Paper `json:"papers"`
	Options task.Options `json:"options"`
}

func registerRoutes(mux *http.ServeMux, organizer *batch.Organizer, metadataCoord *metadata.Coordinator, metricsHandler http.Handler, log *slog.Logger) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	mux.HandleFunc("/v1/batches", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		batchID, err := organizer.OrganizePapers(req.Papers, req.Options)
		if err != nil {
			writeAppError(w, err)
			return
		}
		log.Info("batch submitted", "batchId", batchID, "paperCount", len(req.Papers))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"batchId": batchID})
	})

	mux.HandleFunc("/v1/batches/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		batchID := strings.TrimPrefix(r.URL.Path, "/v1/batches/")
		b, ok := organizer.Get(batchID)
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(b.Snapshot())
	})

	mux.HandleFunc("/v1/metadata/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		paperID := strings.TrimPrefix(r.URL.Path, "/v1/metadata/")
		var rec metadata.PaperRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		rec.PaperID = paperID
		metadataCoord.OnPreprocessingCompleted(rec)
		log.Debug("metadata recorded", "paperId", paperID)
		w.WriteHeader(http.StatusAccepted)
	})
}

func writeAppError(w http.ResponseWriter, err error) {
	ae, ok := err.(*apperrors.Error)
	if !ok {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperrors.KindInvalidInput, apperrors.KindUnsupportedKind:
		status = http.StatusBadRequest
	case apperrors.KindQueueFull:
		status = http.StatusServiceUnavailable
	case apperrors.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	http.Error(w, ae.Error(), status)
}
