package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rainguard/ml"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 64 << 10
	wsSendBuffer     = 16
)

// WSRequest is one prediction request on the websocket. Mode picks which of
// the payload fields is read.
type WSRequest struct {
	ID             string             `json:"id,omitempty"`
	Mode           string             `json:"mode"`
	Features       map[string]float64 `json:"features,omitempty"`
	Strict         bool               `json:"strict,omitempty"`
	AnnualRainfall *float64           `json:"annual_rainfall,omitempty"`
	Months         map[string]float64 `json:"months,omitempty"`
}

// WSResponse answers a WSRequest, echoing its ID.
type WSResponse struct {
	ID      string              `json:"id,omitempty"`
	Result  *PredictionResponse `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`
	Details []string            `json:"details,omitempty"`
}

// WebsocketHandler streams predictions over one connection: every text
// message is a WSRequest and gets exactly one WSResponse, in order.
func (h *Handlers) WebsocketHandler(allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		requestID := GetRequestID(r.Context())
		h.logger.Info("websocket connected", zap.String("request_id", requestID), zap.String("remote", r.RemoteAddr))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		send := make(chan WSResponse, wsSendBuffer)
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer cancel()
			h.writePump(ctx, conn, send)
		}()

		h.readPump(ctx, conn, send)
		close(send)
		<-done
		h.logger.Info("websocket disconnected", zap.String("request_id", requestID))
	}
}

func (h *Handlers) readPump(ctx context.Context, conn *websocket.Conn, send chan<- WSResponse) {
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		resp := h.handleWSMessage(ctx, data)
		select {
		case send <- resp:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handlers) writePump(ctx context.Context, conn *websocket.Conn, send <-chan WSResponse) {
	ticker := h.clock.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case resp, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(resp); err != nil {
				h.logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.Chan():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handlers) handleWSMessage(ctx context.Context, data []byte) WSResponse {
	var msg WSRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return WSResponse{Error: "invalid JSON: " + err.Error()}
	}
	resp := WSResponse{ID: msg.ID}

	var (
		req    ml.PredictionRequest
		strict bool
		body   any
	)
	switch msg.Mode {
	case ModeFeatures:
		p := PredictRequest{Features: msg.Features, Strict: msg.Strict}
		body, req, strict = &p, ml.PredictionRequest(p.Features), p.Strict
	case ModeQuick:
		p := QuickPredictRequest{AnnualRainfall: msg.AnnualRainfall}
		body = &p
		if p.AnnualRainfall != nil {
			req = ml.QuickRequest(*p.AnnualRainfall)
		}
	case ModeDetailed:
		p := DetailedPredictRequest{Months: msg.Months}
		body, req, strict = &p, ml.DetailedRequest(p.Months), true
	default:
		resp.Error = "mode must be one of " + strings.Join([]string{ModeFeatures, ModeQuick, ModeDetailed}, ", ")
		return resp
	}

	if err := h.validate.Struct(body); err != nil {
		h.metrics.ObservePredictionError(msg.Mode, "bad_request")
		resp.Error = "validation failed"
		resp.Details = validationDetails(err)
		return resp
	}

	result, err := h.predict(ctx, msg.Mode, req, strict)
	if err != nil {
		_, resp.Error = predictionStatus(err)
		return resp
	}
	resp.Result = result
	return resp
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
