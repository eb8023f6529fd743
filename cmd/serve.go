package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-github/v68/github"
	"github.com/spf13/cobra"

	"ghchrono/internal/bootstrap"
	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/domain/activity"
	"ghchrono/internal/errs"
	"ghchrono/internal/ports"
	"ghchrono/internal/usecase/snapshot"
	"ghchrono/internal/usecase/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive GitHub webhooks and answer as-of queries over HTTP",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))

		addr, _ := cmd.Flags().GetString("addr")
		secret, _ := cmd.Flags().GetString("webhook-secret")
		if strings.TrimSpace(addr) == "" {
			addr = app.Config.Serve.Addr
		}
		if strings.TrimSpace(secret) == "" {
			secret = app.Config.Serve.WebhookSecret
		}
		if strings.TrimSpace(secret) == "" {
			logging.Warn(ctx, "webhook signature validation disabled: no secret configured")
		}

		server := &http.Server{
			Addr:              addr,
			Handler:           newServeRouter(ctx, app, secret),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			logging.Info(ctx, "http server started", slog.String("addr", addr))
			serveErr <- server.ListenAndServe()
		}()

		select {
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error(ctx, "http server failed", slog.Any("err", errs.Loggable(err)))
				return errs.Wrap(err, "serve http")
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errs.Wrap(err, "shutdown http server")
		}
		logging.Info(ctx, "http server stopped")
		return nil
	}),
}

type repoOpener interface {
	OpenRepo(ctx context.Context, fullName string) (*bootstrap.Repo, error)
}

type serveHandler struct {
	ctx    context.Context
	repos  repoOpener
	secret []byte
	now    func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

type ignoredResponse struct {
	Ignored string `json:"ignored"`
}

type asOfResponse struct {
	Repo        string          `json:"repo"`
	SubjectType string          `json:"subject_type"`
	SubjectID   int64           `json:"subject_id"`
	Attribute   string          `json:"attribute"`
	At          string          `json:"at"`
	Known       bool            `json:"known"`
	Values      []valueResponse `json:"values"`
}

type valueResponse struct {
	State      string `json:"state,omitempty"`
	Title      string `json:"title,omitempty"`
	Body       string `json:"body,omitempty"`
	IsDraft    *bool  `json:"is_draft,omitempty"`
	SHA        string `json:"sha,omitempty"`
	ObjectType string `json:"object_type,omitempty"`
	ObjectID   string `json:"object_id,omitempty"`
}

type horizonResponse struct {
	Repo                  string  `json:"repo"`
	Events                int64   `json:"events"`
	MaxEventOccurredAt    *string `json:"max_event_occurred_at"`
	MaxWatermarkUpdatedAt *string `json:"max_watermark_updated_at"`
}

func newServeRouter(ctx context.Context, repos repoOpener, secret string) http.Handler {
	h := &serveHandler{
		ctx:    ctx,
		repos:  repos,
		secret: []byte(strings.TrimSpace(secret)),
		now:    func() time.Time { return time.Now().UTC() },
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/webhooks/github", h.handleWebhook)
	r.Route("/v1/repos/{owner}/{name}", func(r chi.Router) {
		r.Get("/asof", h.handleAsOf)
		r.Get("/horizon", h.handleHorizon)
	})
	return r
}

func (h *serveHandler) requestContext(r *http.Request) context.Context {
	attrs := logging.Attrs(h.ctx)
	attrs = append(attrs, slog.String("path", r.URL.Path))
	return logging.WithAttrs(logging.WithLogger(r.Context(), logging.Logger(h.ctx)), attrs...)
}

func (h *serveHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := h.requestContext(r)
	eventType := github.WebHookType(r)
	ctx = logging.WithAttrs(ctx,
		slog.String("github_event", eventType),
		slog.String("delivery", github.DeliveryID(r)),
	)

	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		logging.Warn(ctx, "webhook rejected", slog.Any("err", errs.Loggable(err)))
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	delivery, err := activity.NormalizeWebhook(eventType, payload, h.now())
	if errors.Is(err, activity.ErrUnsupportedWebhook) {
		writeJSON(w, http.StatusAccepted, ignoredResponse{Ignored: eventType})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if delivery.RepoFullName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "delivery has no repository"})
		return
	}

	repo, err := h.repos.OpenRepo(ctx, delivery.RepoFullName)
	if err != nil {
		writeServeError(ctx, w, err)
		return
	}
	outcome, err := repo.Webhook.Apply(ctx, delivery)
	if err != nil {
		writeServeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *serveHandler) handleAsOf(w http.ResponseWriter, r *http.Request) {
	ctx := h.requestContext(r)
	repo, err := h.openFromPath(ctx, r)
	if err != nil {
		writeServeError(ctx, w, err)
		return
	}

	query := r.URL.Query()
	number, _ := strconv.Atoi(query.Get("number"))
	id, _ := strconv.ParseInt(query.Get("subject_id"), 10, 64)
	subject, err := resolveSubject(ctx, repo.Store, query.Get("subject_type"), number, id)
	if err != nil {
		writeServeError(ctx, w, err)
		return
	}

	at := h.now()
	if raw := query.Get("at"); raw != "" {
		if at, err = parseInstant(raw); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}
	attr := snapshot.Attribute(query.Get("attr"))
	answer, err := repo.Snapshot.AttributeAsOf(ctx, subject, attr, at)
	if err != nil {
		writeServeError(ctx, w, err)
		return
	}

	resp := asOfResponse{
		Repo:        repo.Ref.FullName(),
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		Attribute:   string(attr),
		At:          at.Format(time.RFC3339Nano),
		Known:       answer.Known,
		Values:      make([]valueResponse, 0, len(answer.Values)),
	}
	for _, v := range answer.Values {
		item := valueResponse{State: v.State, Title: v.Title, Body: v.Body, SHA: v.SHA, ObjectType: v.ObjectType, ObjectID: v.ObjectID}
		if attr == snapshot.AttrDraft {
			draft := v.IsDraft
			item.IsDraft = &draft
		}
		resp.Values = append(resp.Values, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *serveHandler) handleHorizon(w http.ResponseWriter, r *http.Request) {
	ctx := h.requestContext(r)
	repo, err := h.openFromPath(ctx, r)
	if err != nil {
		writeServeError(ctx, w, err)
		return
	}
	horizon, err := repo.Snapshot.Horizon(ctx)
	if err != nil {
		writeServeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, horizonResponse{
		Repo:                  repo.Ref.FullName(),
		Events:                horizon.Events,
		MaxEventOccurredAt:    optionalRFC3339(horizon.MaxEventOccurredAt),
		MaxWatermarkUpdatedAt: optionalRFC3339(horizon.MaxWatermarkUpdatedAt),
	})
}

func (h *serveHandler) openFromPath(ctx context.Context, r *http.Request) (*bootstrap.Repo, error) {
	return h.repos.OpenRepo(ctx, chi.URLParam(r, "owner")+"/"+chi.URLParam(r, "name"))
}

func optionalRFC3339(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func writeServeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrConfig),
		errors.Is(err, snapshot.ErrUnknownAttribute),
		errors.Is(err, activity.ErrInvalidRepoRef),
		errors.Is(err, activity.ErrRepoRefRequired):
		status = http.StatusBadRequest
	case errors.Is(err, ports.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, webhook.ErrRepoMismatch):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logging.Error(ctx, "request failed", slog.Any("err", errs.Loggable(err)))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default serve.addr)")
	serveCmd.Flags().String("webhook-secret", "", "GitHub webhook secret for X-Hub-Signature-256 (default serve.webhook_secret)")
}
