package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorooms/internal/logging"
	"github.com/Tyrowin/gorooms/internal/metrics"
	"github.com/Tyrowin/gorooms/internal/room"
)

// Endpoint binds a WebSocket route to a room.
type Endpoint struct {
	Name string
	Room *room.Room
	// Listen admits connections in listen mode; inbound frames are discarded.
	Listen bool
	// Extras derives per-connection side-table entries from the request.
	Extras func(r *http.Request) []room.Extra
}

// Handlers serves the HTTP surface of the rooms.
type Handlers struct {
	origins  *OriginPolicy
	upgrader websocket.Upgrader
	client   ClientOptions
}

// NewHandlers builds handlers that enforce origins and size clients with opts.
func NewHandlers(origins *OriginPolicy, opts ClientOptions) *Handlers {
	return &Handlers{
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.Check,
		},
		client: opts,
	}
}

// WebSocket upgrades GET requests and hands the connection to ep.Room. The
// handler returns once the connection has left the room.
func (h *Handlers) WebSocket(ep Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			metrics.WebSocketUpgrades.WithLabelValues(ep.Name, "method_not_allowed").Inc()
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			result := "error"
			if !h.origins.Allowed(r) {
				result = "forbidden_origin"
			}
			metrics.WebSocketUpgrades.WithLabelValues(ep.Name, result).Inc()
			logging.Info().Err(err).Str("endpoint", ep.Name).Str("client", r.RemoteAddr).Msg("WebSocket upgrade failed")
			return
		}
		metrics.WebSocketUpgrades.WithLabelValues(ep.Name, "success").Inc()

		client := NewClient(conn, r.RemoteAddr, h.client)
		go client.writePump()

		var extras []room.Extra
		if ep.Extras != nil {
			extras = ep.Extras(r)
		}

		join := ep.Room.Connect
		if ep.Listen {
			join = ep.Room.Listen
		}
		if err := join(r.Context(), client, extras...); err != nil {
			event := logging.Info()
			if !errors.Is(err, room.ErrConnectionRejected) && !errors.Is(err, room.ErrRoomClosed) {
				event = logging.Warn()
			}
			event.Err(err).Str("room", ep.Room.Name()).Str("conn_id", client.ID()).Msg("connection not admitted")
			_ = client.Close()
		}
	}
}

// HealthHandler reports that the server is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "gorooms server is running!")
}

// TestPageHandler serves a small page for trying the chat and clock rooms
// from a browser.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		logging.Warn().Err(err).Msg("error writing HTML response")
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>gorooms WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .log { border: 1px solid #ccc; height: 240px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"] { width: 240px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>gorooms</h1>

    <h2>Chat</h2>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="nameInput" placeholder="Display name">
        <button id="connectButton" onclick="toggleChat()">Connect</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>
    <div id="messages" class="log"></div>

    <h2>Clock</h2>
    <button onclick="toggleClock()">Listen</button>
    <div id="clock">-</div>

    <script>
        const base = (location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host;
        let chat = null;
        let clock = null;

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.color = color;
            el.textContent = text;
            const log = document.getElementById('messages');
            log.appendChild(el);
            log.scrollTop = log.scrollHeight;
        }

        function setConnected(connected) {
            const status = document.getElementById('status');
            status.textContent = connected ? 'Connected' : 'Disconnected';
            status.className = 'status ' + (connected ? 'connected' : 'disconnected');
            document.getElementById('messageInput').disabled = !connected;
            document.getElementById('sendButton').disabled = !connected;
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function toggleChat() {
            if (chat) { chat.close(); return; }
            const name = encodeURIComponent(document.getElementById('nameInput').value.trim());
            chat = new WebSocket(base + '/ws' + (name ? '?name=' + name : ''));
            chat.onopen = () => { setConnected(true); addLine('Connected', 'gray'); };
            chat.onclose = () => { setConnected(false); addLine('Connection closed', 'gray'); chat = null; };
            chat.onmessage = (event) => {
                const msg = JSON.parse(event.data);
                if (msg.event) {
                    addLine(msg.from + (msg.event === 'join' ? ' joined' : ' left'), 'gray');
                } else {
                    addLine((msg.from || 'Other') + ': ' + msg.content, 'green');
                }
            };
        }

        function sendMessage() {
            const input = document.getElementById('messageInput');
            const content = input.value.trim();
            if (content && chat && chat.readyState === WebSocket.OPEN) {
                chat.send(JSON.stringify({ content: content }));
                addLine('You: ' + content, 'blue');
                input.value = '';
            }
        }

        function toggleClock() {
            if (clock) { clock.close(); clock = null; return; }
            clock = new WebSocket(base + '/clock');
            clock.onmessage = (event) => {
                const tick = JSON.parse(event.data);
                document.getElementById('clock').textContent = new Date(tick.current_time * 1000).toLocaleTimeString();
            };
        }

        document.getElementById('messageInput').addEventListener('keypress', (e) => {
            if (e.key === 'Enter') { sendMessage(); }
        });
    </script>
</body>
</html>`
