package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"interview-agent/internal/domain"
	"interview-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// UseCase is the interview surface served over HTTP.
type UseCase interface {
	Turn(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
	Finish(ctx context.Context, in usecase.FinishInput) (usecase.FinishOutput, error)
}

type turnRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Message   string `json:"message"`
}

type turnResponse struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
	Turn      int    `json:"turn"`
	Done      bool   `json:"done"`
}

type finishRequest struct {
	SessionID string `json:"sessionId"`
}

type finishResponse struct {
	Record  domain.InterviewRecord `json:"record"`
	Matches []domain.Match         `json:"matches"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type Handler struct {
	uc     UseCase
	logger *slog.Logger
}

func NewHandler(uc UseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc, logger: slog.Default()}, nil
}

// Handle routes an API Gateway proxy event to the matching interview operation.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	logger := h.logger.With("correlation_id", corrID, "path", event.Path)

	if event.HTTPMethod != "" && event.HTTPMethod != http.MethodPost {
		return respond(corrID, http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "method not allowed"}), nil
	}

	switch {
	case strings.HasSuffix(event.Path, "/interview/turn"):
		var req turnRequest
		if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
			return respond(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "body must be JSON"}), nil
		}
		out, err := h.uc.Turn(ctx, usecase.TurnInput{SessionID: req.SessionID, Name: req.Name, Message: req.Message})
		if err != nil {
			return h.fail(logger, corrID, err), nil
		}
		return respond(corrID, http.StatusOK, turnResponse{
			Question:  out.Question,
			SessionID: out.SessionID,
			Turn:      out.Turn,
			Done:      out.Done,
		}), nil

	case strings.HasSuffix(event.Path, "/interview/finish"):
		var req finishRequest
		if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
			return respond(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "body must be JSON"}), nil
		}
		out, err := h.uc.Finish(ctx, usecase.FinishInput{SessionID: req.SessionID})
		if err != nil {
			return h.fail(logger, corrID, err), nil
		}
		matches := out.Matches
		if matches == nil {
			matches = []domain.Match{}
		}
		return respond(corrID, http.StatusOK, finishResponse{Record: out.Record, Matches: matches}), nil
	}

	return respond(corrID, http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "unknown route"}), nil
}

func (h *Handler) fail(logger *slog.Logger, corrID string, err error) events.APIGatewayProxyResponse {
	code := usecase.ErrorInternal
	reason := ""
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code = ucErr.Code
		reason = ucErr.Reason
	}
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", string(code), "reason", reason, "err", err)
	} else {
		logger.Warn("request rejected", "code", string(code), "reason", reason, "err", err)
	}
	return respond(corrID, status, errorResponse{Error: string(code), Message: messageFor(code)})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorInvalidResponse:
		return http.StatusUnprocessableEntity
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(code usecase.ErrorCode) string {
	switch code {
	case usecase.ErrorRateLimited, usecase.ErrorUpstream, usecase.ErrorConflict:
		return "please try again"
	case usecase.ErrorInvalidResponse:
		return "please rephrase your response"
	}
	return ""
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func respond(corrID string, status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}
