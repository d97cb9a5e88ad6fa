package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/PayPipe/internal/messaging"
	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/google/uuid"
)

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "paypipe"}))
}

// verifyWebhookHandler answers the Cloud API subscription handshake.
func (s *Server) verifyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || s.opts.VerifyToken == "" || q.Get("hub.verify_token") != s.opts.VerifyToken {
		slog.Warn("Server.verifyWebhookHandler: verification rejected", "mode", q.Get("hub.mode"))
		writeJSONResponse(w, http.StatusForbidden, models.Error("Verification failed"))
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, q.Get("hub.challenge"))
}

// cloudWebhookHandler processes Cloud API deliveries. A failed reply send
// returns 500 so the provider redelivers.
func (s *Server) cloudWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBytes))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read body"))
		return
	}
	if s.opts.AppSecret != "" && !messaging.VerifyCloudSignature(s.opts.AppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		slog.Warn("Server.cloudWebhookHandler: bad signature")
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid signature"))
		return
	}
	msgs, err := messaging.ParseCloudWebhook(body)
	if err != nil {
		slog.Warn("Server.cloudWebhookHandler: unparseable payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid payload"))
		return
	}

	processed := 0
	for _, msg := range msgs {
		if _, err := s.handler.ProcessMessage(r.Context(), msg); err != nil {
			if errors.Is(err, messaging.ErrSendFailed) {
				writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to deliver reply"))
				return
			}
			// Malformed messages are acknowledged; redelivery cannot fix them.
			slog.Warn("Server.cloudWebhookHandler: message dropped", "error", err, "messageID", msg.ID)
			continue
		}
		processed++
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"processed": processed}))
}

func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxWebhookBytes)
	if err := r.ParseForm(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form"))
		return
	}
	if s.opts.TwilioValidator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.opts.TwilioValidator.Validate(s.opts.TwilioPublicURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("Server.twilioWebhookHandler: bad signature")
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid signature"))
			return
		}
	}
	msg, err := messaging.ParseTwilioForm(r.PostForm)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid message", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	res, err := s.handler.ProcessMessage(r.Context(), msg)
	switch {
	case errors.Is(err, messaging.ErrSendFailed):
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to deliver reply"))
	case err != nil:
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"duplicate": res.Duplicate}))
	}
}

type sendModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) getSendModeHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(sendModeRequest{Mode: string(s.opts.SendMode.Mode())}))
}

func (s *Server) putSendModeHandler(w http.ResponseWriter, r *http.Request) {
	var req sendModeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	mode, err := messaging.ParseSendMode(req.Mode)
	if err == nil {
		err = s.opts.SendMode.SetMode(mode)
	}
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Send mode updated", sendModeRequest{Mode: string(mode)}))
}

type testMessageRequest struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// testMessageHandler routes a message and returns the reply without sending it.
func (s *Server) testMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req testMessageRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	from, err := messaging.CanonicalizeRecipient(req.From)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	msg := &models.Message{ID: "test-" + uuid.NewString(), From: from, Body: req.Body, Time: time.Now().Unix()}
	reply, err := s.replier.Handle(r.Context(), msg)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"reply": reply}))
}
