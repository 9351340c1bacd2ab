// Package handlers serves the ops endpoints of the post-processor.
package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"real-backend/application/postprocessing"
	"real-backend/pkg/common"
	apperrors "real-backend/pkg/errors"
)

// maxReplayBytes bounds a replay request body.
const maxReplayBytes = 6 << 20

// BatchProcessor is the dispatcher surface used by ops handlers.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error)
	Routes() map[postprocessing.Route][]string
}

// ReplayRequest is a stream batch captured from the change stream.
type ReplayRequest struct {
	Records []events.DynamoDBEventRecord `json:"Records" validate:"required,min=1,max=1000"`
}

// ReplayResponse reports the records the dispatcher asked to retry.
type ReplayResponse struct {
	Received              int      `json:"received"`
	FailedSequenceNumbers []string `json:"failedSequenceNumbers"`
}

// RouteInfo describes one registered route.
type RouteInfo struct {
	Route      string   `json:"route"`
	Processors []string `json:"processors"`
}

// ReplayHandler replays captured stream batches through the dispatcher.
type ReplayHandler struct {
	dispatcher BatchProcessor
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewReplayHandler creates a replay handler
func NewReplayHandler(dispatcher BatchProcessor, logger *zap.Logger) *ReplayHandler {
	return &ReplayHandler{
		dispatcher: dispatcher,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Replay handles POST /ops/replay
func (h *ReplayHandler) Replay(w http.ResponseWriter, r *http.Request) {
	log := common.LoggerFrom(r.Context(), h.logger)

	var req ReplayRequest
	if err := common.ParseJSONBody(w, r, &req, maxReplayBytes); err != nil {
		common.RespondError(w, r, http.StatusBadRequest, common.StandardErrorCodes.BadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		common.RespondAppError(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	log.Info("Replaying stream batch", zap.Int("records", len(req.Records)))

	resp, err := h.dispatcher.ProcessBatch(r.Context(), events.DynamoDBEvent{Records: req.Records})
	if err != nil {
		log.Error("Replay failed", zap.Error(err))
		common.RespondAppError(w, r, err)
		return
	}

	out := ReplayResponse{Received: len(req.Records), FailedSequenceNumbers: []string{}}
	for _, failure := range resp.BatchItemFailures {
		out.FailedSequenceNumbers = append(out.FailedSequenceNumbers, failure.ItemIdentifier)
	}
	common.RespondJSON(w, r, http.StatusOK, out)
}

// Routes handles GET /ops/routes
func (h *ReplayHandler) Routes(w http.ResponseWriter, r *http.Request) {
	routes := h.dispatcher.Routes()
	out := make([]RouteInfo, 0, len(routes))
	for route, names := range routes {
		out = append(out, RouteInfo{Route: route.String(), Processors: names})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	common.RespondJSON(w, r, http.StatusOK, out)
}
