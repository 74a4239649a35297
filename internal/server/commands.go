package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"netmonitor/internal/models"
)

const (
	commandPing    = "ping"
	commandTargets = "targets"

	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 4 << 10
)

var commandUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

type commandRequest struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Target  string `json:"target,omitempty"`
}

type commandReply struct {
	ID      string              `json:"id"`
	Command string              `json:"command,omitempty"`
	Target  string              `json:"target,omitempty"`
	Result  *models.ProbeResult `json:"result,omitempty"`
	Targets []string            `json:"targets,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// commandConn serialises writes on a websocket; gorilla allows one writer at a time.
type commandConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *commandConn) write(reply commandReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(reply)
}

func (s *Server) handleCommandsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := commandUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveCommands(conn, clientKey(r))
}

// serveCommands reads commands until the peer goes away. Each ping runs in
// its own goroutine so a slow target never holds up replies for others.
func (s *Server) serveCommands(conn *websocket.Conn, client string) {
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	out := &commandConn{conn: conn}
	limiter := s.limiterFor(client)
	s.logger.Debug("command_channel_opened", "client", client)
	defer s.logger.Debug("command_channel_closed", "client", client)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req commandRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if out.write(commandReply{Error: "invalid command payload"}) != nil {
				return
			}
			continue
		}

		switch req.Command {
		case commandTargets:
			reply := commandReply{ID: req.ID, Command: req.Command, Targets: s.prober.AllowList().Targets()}
			if out.write(reply) != nil {
				return
			}
		case commandPing:
			if !limiter.Allow() {
				if out.write(commandReply{ID: req.ID, Command: req.Command, Target: req.Target, Error: "rate limit exceeded"}) != nil {
					return
				}
				continue
			}
			wg.Add(1)
			go func(req commandRequest) {
				defer wg.Done()
				reply := commandReply{ID: req.ID, Command: req.Command, Target: req.Target}
				res, err := s.prober.Probe(ctx, req.Target)
				if err != nil {
					reply.Error = err.Error()
				} else {
					reply.Result = &res
				}
				_ = out.write(reply)
			}(req)
		default:
			if out.write(commandReply{ID: req.ID, Command: req.Command, Error: "unknown command"}) != nil {
				return
			}
		}
	}
}
