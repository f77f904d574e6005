package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stellarlinkco/birthdaybot/internal/bus"
	"github.com/stellarlinkco/birthdaybot/internal/config"
	"github.com/stellarlinkco/birthdaybot/internal/logging"
)

const sandboxChannelName = "sandbox"

const sandboxBotName = "birthdaybot"

// wsMessage is the sandbox wire frame in both directions.
type wsMessage struct {
	Type    string `json:"type"`
	From    string `json:"from,omitempty"`
	Content string `json:"content,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
	name string
}

// SandboxChannel is a local group chat over websockets. Every connected
// client sees every message, including the bot's replies, so it behaves
// like a small group for trying the engine without a real transport.
type SandboxChannel struct {
	BaseChannel
	addr    string
	room    string
	server  *http.Server
	clients sync.Map // id -> *wsClient
	nextID  atomic.Int64
	log     zerolog.Logger
}

func NewSandboxChannel(cfg config.SandboxConfig, b *bus.MessageBus) (*SandboxChannel, error) {
	port := cfg.Port
	if port == 0 {
		port = config.DefaultSandboxPort
	}
	host := cfg.Host
	if host == "" {
		host = config.DefaultHost
	}
	room := strings.TrimSpace(cfg.Room)
	if room == "" {
		room = config.DefaultSandboxRoom
	}

	return &SandboxChannel{
		BaseChannel: NewBaseChannel(sandboxChannelName, b, cfg.AllowFrom),
		addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		room:        room,
		log:         logging.Named(sandboxChannelName),
	}, nil
}

// Handler serves the chat page at / and the websocket at /ws.
func (s *SandboxChannel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *SandboxChannel) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("sandbox listen: %w", err)
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Str("room", s.room).Msg("listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("server error")
		}
	}()
	return nil
}

func (s *SandboxChannel) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(sandboxPage))
}

func (s *SandboxChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	clientID := fmt.Sprintf("sandbox-%d", s.nextID.Add(1))
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = clientID
	}
	client := &wsClient{conn: conn, id: clientID, name: name}
	s.clients.Store(clientID, client)
	s.log.Info().Str("client", clientID).Str("name", name).Msg("client connected")

	defer func() {
		s.clients.Delete(clientID)
		conn.CloseNow()
		s.log.Info().Str("client", clientID).Msg("client disconnected")
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if msg.Type != "message" || content == "" {
			continue
		}

		// Echo to the other members first, as a group would.
		s.broadcast(wsMessage{Type: "message", From: name, Content: content}, clientID)

		if !s.IsAllowed(clientID) && !s.IsAllowed(name) {
			s.log.Debug().Str("client", clientID).Msg("sender not in allow list")
			continue
		}

		s.publish(bus.InboundMessage{
			Channel:   sandboxChannelName,
			SenderID:  clientID,
			ChatID:    s.room,
			MessageID: fmt.Sprintf("%s-%d", clientID, time.Now().UnixNano()),
			Content:   content,
			Timestamp: time.Now(),
			Metadata:  map[string]any{"push_name": name},
		})
	}
}

// Send delivers a bot message to every client in the room.
func (s *SandboxChannel) Send(msg bus.OutboundMessage) error {
	if msg.ChatID != "" && msg.ChatID != s.room {
		return fmt.Errorf("sandbox: unknown room %q", msg.ChatID)
	}
	if n := s.broadcast(wsMessage{Type: "message", From: sandboxBotName, Content: msg.Content}, ""); n == 0 {
		s.log.Info().Str("text", logging.Truncate(msg.Content, 80)).Msg("no clients connected, reply dropped")
	}
	return nil
}

// broadcast writes m to all clients except skipID and returns how many
// were written.
func (s *SandboxChannel) broadcast(m wsMessage, skipID string) int {
	data, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	n := 0
	s.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		if c.id == skipID {
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			s.log.Warn().Err(err).Str("client", c.id).Msg("write failed")
			return true
		}
		n++
		return true
	})
	return n
}

func (s *SandboxChannel) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("shutdown error")
		}
	}
	s.clients.Range(func(key, value any) bool {
		value.(*wsClient).conn.CloseNow()
		return true
	})
	s.log.Info().Msg("stopped")
	return nil
}

const sandboxPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>birthdaybot sandbox</title>
<style>body{font-family:sans-serif;max-width:40em;margin:2em auto}#log div{margin:.3em 0}b{color:#555}</style>
</head><body dir="auto">
<div id="log"></div>
<form id="f"><input id="name" placeholder="name" size="10"> <input id="msg" size="40" autofocus> <button>send</button></form>
<script>
let ws;
const log = document.getElementById("log");
function show(from, text) {
  const d = document.createElement("div");
  d.innerHTML = "<b></b> <span></span>";
  d.children[0].textContent = from + ":";
  d.children[1].textContent = text;
  log.appendChild(d);
}
function connect() {
  const name = document.getElementById("name").value || "guest";
  ws = new WebSocket("ws://" + location.host + "/ws?name=" + encodeURIComponent(name));
  ws.onmessage = e => { const m = JSON.parse(e.data); show(m.from, m.content); };
}
document.getElementById("f").onsubmit = e => {
  e.preventDefault();
  if (!ws || ws.readyState !== 1) { connect(); ws.onopen = () => e.target.requestSubmit(); return; }
  const input = document.getElementById("msg");
  ws.send(JSON.stringify({type: "message", content: input.value}));
  show("me", input.value);
  input.value = "";
};
</script></body></html>
`
