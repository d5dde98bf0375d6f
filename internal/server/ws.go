package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/agenticlabs/workspace/internal/domain"
	"github.com/agenticlabs/workspace/internal/orchestrator"
	"github.com/agenticlabs/workspace/internal/rag"
	"github.com/agenticlabs/workspace/internal/settings"
)

// command is one inbound frame from the desktop shell.
type command struct {
	Type string `json:"type"`

	Key       string        `json:"key,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Model     string        `json:"model,omitempty"`
	Enabled   bool          `json:"enabled,omitempty"`
	Text      string        `json:"text,omitempty"`
	TargetID  string        `json:"target_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Files     []filePayload `json:"files,omitempty"`
}

type filePayload struct {
	Name string `json:"name"`
	Data string `json:"data"` // base64
}

// event is one outbound frame to the desktop shell. Type names mirror the
// renderer's handler functions.
type event struct {
	Type     string               `json:"type"`
	Text     string               `json:"text,omitempty"`
	Target   string               `json:"target,omitempty"`
	Messages []domain.ChatMessage `json:"messages,omitempty"`
	Sessions []domain.SessionInfo `json:"sessions,omitempty"`
	Stats    *domain.IndexStats   `json:"stats,omitempty"`
	Files    []string             `json:"files,omitempty"`
}

// Bridge upgrades /ws connections and dispatches command frames. Each
// connection doubles as the UI transport for cycles it starts.
type Bridge struct {
	settings *settings.Store
	rag      *rag.Service
	log      domain.ChatLog
	orch     *orchestrator.Orchestrator
	logger   *slog.Logger

	allowedOrigin string
}

func NewBridge(st *settings.Store, ragSvc *rag.Service, chatLog domain.ChatLog, orch *orchestrator.Orchestrator, logger *slog.Logger, allowedOrigin string) *Bridge {
	return &Bridge{
		settings:      st,
		rag:           ragSvc,
		log:           chatLog,
		orch:          orch,
		logger:        logger,
		allowedOrigin: allowedOrigin,
	}
}

// conn is one live connection. Writes are serialized: cycle workers and the
// dispatch loop push frames concurrently.
type conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	mu sync.Mutex
}

func (c *conn) send(ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("event marshal failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		c.logger.Debug("websocket write failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
}

// conn implements domain.Transport for cycles started on this connection.

func (c *conn) CreateBubble(targetID string) {
	c.send(event{Type: "createBotBubble", Target: targetID})
}

func (c *conn) ClearBubble(targetID string) {
	c.send(event{Type: "clearBubble", Target: targetID})
}

func (c *conn) Chunk(text, targetID string) {
	c.send(event{Type: "receiveChunk", Text: text, Target: targetID})
}

func (c *conn) Complete() {
	c.send(event{Type: "streamComplete"})
}

func (c *conn) Error(message string) {
	c.send(event{Type: "receiveError", Text: message})
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if b.allowedOrigin != "" {
		opts.OriginPatterns = []string{b.allowedOrigin}
	}

	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		b.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	c := &conn{ws: ws, logger: b.logger}
	b.logger.Info("shell connected", slog.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer ws.Close(websocket.StatusNormalClosure, "bye")

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				b.logger.Info("shell disconnected")
			} else {
				b.logger.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			b.logger.Warn("malformed command frame", slog.String("error", err.Error()))
			c.send(event{Type: "receiveError", Text: "malformed command"})
			continue
		}

		b.dispatch(ctx, c, cmd)
	}
}

func (b *Bridge) dispatch(ctx context.Context, c *conn, cmd command) {
	switch cmd.Type {
	case "set_api_key":
		msg, err := b.settings.SetAPIKey(cmd.Key, cmd.Provider)
		if err != nil {
			c.send(event{Type: "status", Text: "Invalid provider"})
			return
		}
		c.send(event{Type: "status", Text: msg})

	case "set_provider":
		msg, err := b.settings.SetProvider(cmd.Provider)
		if err != nil {
			c.send(event{Type: "status", Text: "Invalid provider"})
			return
		}
		c.send(event{Type: "status", Text: msg})

	case "set_model":
		b.settings.SetModel(cmd.Model)
		c.send(event{Type: "status", Text: "Model set to " + cmd.Model})

	case "toggle_multi_agent":
		b.settings.ToggleMultiAgent(cmd.Enabled)
		c.send(event{Type: "status", Text: modeText("Multi-agent mode", cmd.Enabled)})

	case "toggle_retrieval":
		b.settings.ToggleRetrieval(cmd.Enabled)
		c.send(event{Type: "status", Text: modeText("Document context", cmd.Enabled)})

	case "upload_files":
		b.handleUpload(ctx, c, cmd.Files)

	case "clear_rag_context":
		if err := b.rag.Clear(); err != nil {
			c.send(event{Type: "receiveError", Text: err.Error()})
			return
		}
		c.send(event{Type: "status", Text: "Document context cleared"})

	case "rag_stats":
		stats := b.rag.Stats()
		c.send(event{Type: "rag_stats", Stats: &stats, Files: b.rag.Filenames()})

	case "load_history":
		msgs, err := b.log.History(ctx, cmd.SessionID)
		if err != nil {
			c.send(event{Type: "receiveError", Text: "Failed to load history"})
			return
		}
		c.send(event{Type: "history", Messages: msgs})

	case "list_sessions":
		sessions, err := b.log.Sessions(ctx)
		if err != nil {
			c.send(event{Type: "receiveError", Text: "Failed to list sessions"})
			return
		}
		c.send(event{Type: "sessions", Sessions: sessions})

	case "clear_history":
		if err := b.log.Clear(ctx, cmd.SessionID); err != nil {
			c.send(event{Type: "receiveError", Text: "Failed to clear history"})
			return
		}
		c.send(event{Type: "status", Text: "History cleared"})

	case "start_chat":
		req := domain.Request{
			UserText:  cmd.Text,
			TargetID:  cmd.TargetID,
			SessionID: cmd.SessionID,
		}
		// Failures surface through the transport; nothing to send here.
		_ = b.orch.StartChat(ctx, c, req)

	default:
		b.logger.Warn("unknown command", slog.String("type", cmd.Type))
		c.send(event{Type: "receiveError", Text: "unknown command: " + cmd.Type})
	}
}

func (b *Bridge) handleUpload(ctx context.Context, c *conn, payloads []filePayload) {
	files := make([]domain.File, 0, len(payloads))
	for _, p := range payloads {
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			b.logger.Warn("file payload not base64", slog.String("file", p.Name))
			continue
		}
		files = append(files, domain.File{Name: p.Name, Data: data})
	}

	ok, err := b.rag.IngestFiles(ctx, files)
	if err != nil {
		c.send(event{Type: "receiveError", Text: err.Error()})
		return
	}
	if !ok {
		c.send(event{Type: "status", Text: "No indexable content found"})
		return
	}

	stats := b.rag.Stats()
	c.send(event{Type: "rag_stats", Stats: &stats, Files: b.rag.Filenames()})
}

func modeText(what string, enabled bool) string {
	if enabled {
		return what + " enabled"
	}
	return what + " disabled"
}
