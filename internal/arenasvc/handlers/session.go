package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/kana-services/internal/comm"
	"github.com/avvvet/kana-services/internal/match"
	"github.com/avvvet/kana-services/internal/tournament"
)

// matchConn serialises writes: runner events and reader errors come from
// different goroutines.
type matchConn struct {
	conn     *websocket.Conn
	socketId string
	mu       sync.Mutex
}

func (c *matchConn) send(msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("Failed to marshal %s frame for socket %s: %v", msgType, c.socketId, err)
		return
	}
	frame, err := json.Marshal(comm.WSMessage{Type: msgType, Data: data})
	if err != nil {
		log.Errorf("Failed to marshal WSMessage for socket %s: %v", c.socketId, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Debugf("write to socket %s failed: %v", c.socketId, err)
	}
}

func (c *matchConn) sendError(message string) {
	c.send(comm.TypeError, comm.ErrorData{Message: message})
}

// readActions forwards client frames to the runner until the socket closes.
// Closing actions makes the runner quit and submit what was answered.
func (c *matchConn) readActions(ctx context.Context, actions chan<- match.Action) {
	defer close(actions)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Errorf("WebSocket unexpected close error for socket %s: %v", c.socketId, err)
			} else {
				log.Infof("WebSocket connection closed for socket: %s", c.socketId)
			}
			return
		}

		action, ok := parseAction(raw)
		if !ok {
			c.sendError("Invalid message format")
			continue
		}

		select {
		case actions <- action:
		case <-ctx.Done():
			return
		}
	}
}

// parseAction reads {"type":"select","data":{"answer":"B"}}.
func parseAction(raw []byte) (match.Action, bool) {
	var msg comm.WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return match.Action{}, false
	}

	action := match.Action{Type: match.ActionType(msg.Type)}
	switch action.Type {
	case match.ActionSelect, match.ActionNext, match.ActionExplain, match.ActionQuit:
	default:
		return match.Action{}, false
	}

	if len(msg.Data) > 0 && string(msg.Data) != "null" {
		var data struct {
			Answer string `json:"answer"`
		}
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return match.Action{}, false
		}
		action.Answer = data.Answer
	}
	return action, true
}

// MatchSession plays one match over a websocket. Questions are fetched
// before the upgrade so backend failures still get a normal HTTP error.
func (h *Handler) MatchSession(w http.ResponseWriter, r *http.Request) {
	tournamentID := chi.URLParam(r, "tournamentID")
	matchID := chi.URLParam(r, "matchID")

	player := h.player(r)
	if player == "" {
		h.Fail(w, "cannot start match", tournament.ErrAddressRequired)
		return
	}

	mq, err := h.Tournaments.MatchQuestions(r.Context(), tournamentID, matchID)
	if err != nil {
		h.Fail(w, "failed to load match questions", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}
	mc := &matchConn{conn: conn, socketId: uuid.New().String()}
	defer func() {
		log.Infof("Closing WebSocket connection: %s", mc.socketId)
		conn.Close()
	}()

	// the server's ReadTimeout survives the hijack
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		log.Warnf("clear read deadline on socket %s: %v", mc.socketId, err)
	}

	runner, err := match.NewRunner(match.Config{
		TournamentID:    tournamentID,
		MatchID:         matchID,
		Player:          player,
		QuestionSeconds: h.QuestionSeconds,
		MatchSeconds:    mq.TimeLimitMinutes * 60,
		Strategy:        h.Grading,
	}, match.FromQuiz(mq.Questions), h.Tournaments, match.WithEvents(func(ev match.Event) {
		mc.send(string(ev.Type), ev)
	}))
	if err != nil {
		mc.sendError(err.Error())
		return
	}

	log.Infof("match %s/%s started for %s on socket %s", tournamentID, matchID, player, mc.socketId)

	// the session outlives the request's middleware deadline
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	actions := make(chan match.Action)
	go mc.readActions(ctx, actions)

	res, err := runner.Run(ctx, actions)
	h.finishMatch(mc, tournamentID, matchID, player, res, err)
}

func (h *Handler) finishMatch(mc *matchConn, tournamentID, matchID, player string, res *match.Result, err error) {
	if res == nil {
		log.Errorf("match %s/%s aborted: %v", tournamentID, matchID, err)
		mc.sendError(err.Error())
		return
	}

	h.Metrics.ObserveMatch(res.Reason)

	out := comm.MatchResult{Reason: res.Reason, Submission: res.Submission, Response: res.Response}
	if err != nil {
		log.Errorf("match %s/%s: %v", tournamentID, matchID, err)
		out.Error = err.Error()
	}
	mc.send(comm.TypeMatchResult, out)

	if res.Response == nil {
		return
	}

	evt := comm.MatchSubmitted{
		TournamentID: tournamentID,
		MatchID:      matchID,
		Player:       player,
		Score:        res.Submission.Score,
		Percentage:   res.Submission.Percentage,
		Instance:     h.Instance,
		Timestamp:    time.Now().UTC(),
	}
	if res.Response.MatchResult != nil {
		evt.Winner = res.Response.MatchResult.Winner
	}
	h.Events.Publish(comm.TypeMatchSubmitted, evt)
}
