package http

import (
	"errors"
	"net/http"
	"strconv"

	"staffchat/infrastructure/ws"
	"staffchat/internal/entity"
	"staffchat/internal/usecase"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

var ErrBadRequest = errors.New("invalid request")

type HttpHandler struct {
	messageUc usecase.MessageUsecase
	unreadUc  usecase.UnreadUsecase
	hub       ws.IHub
	health    *usecase.Health
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewHttpHandler(messageUc usecase.MessageUsecase, unreadUc usecase.UnreadUsecase, hub ws.IHub, health *usecase.Health, logger *zap.Logger) *HttpHandler {
	return &HttpHandler{
		messageUc: messageUc,
		unreadUc:  unreadUc,
		hub:       hub,
		health:    health,
		validate:  validator.New(),
		logger:    logger.Named("http"),
	}
}

type Response struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type ErrorData struct {
	Code string `json:"code"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

type SendMessageRequest struct {
	ReceiverId  *int64             `json:"receiverId"`
	GroupId     *int64             `json:"groupId"`
	MessageText string             `json:"messageText"`
	FileData    *entity.Attachment `json:"fileData" validate:"-"`
}

type MarkAsReadResponse struct {
	PreviousCount int `json:"previousCount"`
}

func writeJSON(w http.ResponseWriter, status int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, usecase.ErrInvalidAddressing),
		errors.Is(err, usecase.ErrEmptyMessage),
		errors.Is(err, usecase.ErrInvalidAttachment):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, usecase.ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, usecase.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *HttpHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	code := usecase.ErrorCode(err)
	if errors.Is(err, ErrBadRequest) {
		code = "BadRequest"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		message = "internal server error"
	}
	writeJSON(w, status, Response{Message: message, Data: ErrorData{Code: code}})
}

// Method Get /health
func (h *HttpHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if h.health.Degraded() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, Response{
		Message: "success",
		Data:    HealthResponse{Status: h.health.Status(), Connections: h.hub.GetClientCount()},
	})
}

// Method Get /chat/messages?chatType=&chatId=&before=&limit=
func (h *HttpHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	query := r.URL.Query()

	ref := entity.ConversationRef{ChatType: entity.ChatType(query.Get("chatType"))}
	var err error
	if ref.ChatId, err = intParam(query.Get("chatId")); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.validate.Struct(ref); err != nil {
		h.writeError(w, errors.Join(ErrBadRequest, err))
		return
	}
	before, err := intParam(query.Get("before"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit, err := intParam(query.Get("limit"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	messages, err := h.messageUc.History(r.Context(), claims.UserId, ref, before, int(limit))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []entity.Message{}
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: messages})
}

// Method Post /chat/messages
func (h *HttpHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.Join(ErrBadRequest, err))
		return
	}

	message, err := h.messageUc.Submit(r.Context(), entity.SendMessageRequest{
		SenderId:   claims.UserId,
		ReceiverId: req.ReceiverId,
		GroupId:    req.GroupId,
		Text:       req.MessageText,
		Attachment: req.FileData,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Message: "success", Data: message})
}

// Method Get /chat/unread
func (h *HttpHandler) GetUnread(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())

	if err := h.unreadUc.Join(r.Context(), claims.UserId); err != nil {
		h.writeError(w, err)
		return
	}
	status := h.unreadUc.Status(claims.UserId)
	if status == nil {
		status = []entity.UnreadStatus{}
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: status})
}

// Method Post /chat/read
func (h *HttpHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())

	var ref entity.ConversationRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		h.writeError(w, errors.Join(ErrBadRequest, err))
		return
	}
	if err := h.validate.Struct(ref); err != nil {
		h.writeError(w, errors.Join(ErrBadRequest, err))
		return
	}

	previous, err := h.unreadUc.MarkAsRead(r.Context(), claims.UserId, ref)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: MarkAsReadResponse{PreviousCount: previous}})
}

func intParam(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.Join(ErrBadRequest, errors.New("bad numeric parameter "+strconv.Quote(raw)))
	}
	return v, nil
}
