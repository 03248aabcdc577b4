package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"

	"github.com/calldeck/copilot/agent"
	"github.com/calldeck/copilot/call"
	"github.com/calldeck/copilot/config"
	"github.com/calldeck/copilot/logger"
	"github.com/calldeck/copilot/rag"
	"github.com/calldeck/copilot/session"
	"github.com/calldeck/copilot/transcribe"
)

type callRequest struct {
	To string `json:"to"`
}

type callResponse struct {
	SID     string `json:"sid,omitempty"`
	Message string `json:"message"`
}

func main() {
	cfg := config.Load()

	var index rag.Index
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		index = rag.NewRedisIndex(client, rag.WithPrefix(cfg.IndexPrefix))
		logger.Info("using redis knowledge index", "addr", cfg.RedisAddr)
	} else {
		index = rag.NewMemoryIndex()
		logger.Info("using in-memory knowledge index")
	}

	var retriever agent.ContextRetriever
	if cfg.OpenAIAPIKey != "" {
		embedder, err := rag.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		if err != nil {
			logger.Error("embedder setup failed", "error", err)
			os.Exit(1)
		}
		retriever = rag.NewRetriever(index, embedder,
			rag.WithTopK(cfg.TopK),
			rag.WithThreshold(cfg.RelevanceThreshold),
			rag.WithContextBudget(cfg.ContextBudget))

		if cfg.KnowledgeDir != "" {
			pipeline := rag.NewPipeline(index, embedder, rag.NewChunker())
			ingestKnowledge(pipeline, cfg.KnowledgeDir)
		}
	} else {
		logger.Warn("no OpenAI API key, suggestions run without retrieval grounding")
	}

	mgr := session.NewManager()

	newAgent := func() *agent.Agent {
		gen := agent.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.ChatModel,
			agent.WithMaxTokens(cfg.MaxTokens),
			agent.WithTemperature(cfg.Temperature))
		return agent.New(gen, retriever,
			agent.WithCooldown(cfg.SuggestionCooldown),
			agent.WithHistoryCap(cfg.HistoryLimit))
	}
	newStream := func(encoding string, sampleRate int) *transcribe.Stream {
		return transcribe.NewStream(transcribe.Config{
			APIKey:     cfg.DeepgramAPIKey,
			Model:      cfg.DeepgramModel,
			Encoding:   encoding,
			SampleRate: sampleRate,
			Channels:   cfg.AudioChannels,
			Diarize:    cfg.EnableDiarization,
		})
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "active_sessions": mgr.Count()})
	})

	app.Get("/ws/status", func(c *fiber.Ctx) error {
		return c.JSON(mgr.Status())
	})

	app.Use("/ws/session", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/session", websocket.New(func(ws *websocket.Conn) {
		h := session.NewHandler(mgr, newStream("linear16", cfg.AudioSampleRate), newAgent())
		h.Serve(context.Background(), ws)
	}))

	if cfg.TwilioConfigured() {
		originator := call.NewOriginator(cfg)

		app.Post("/call", func(c *fiber.Ctx) error {
			var req callRequest
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
			}
			if req.To == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "`to` field is required"})
			}

			sid, err := originator.Originate(req.To)
			if err != nil {
				logger.Error("call origination failed", "error", err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create call"})
			}
			return c.JSON(callResponse{SID: sid, Message: "call initiated"})
		})

		app.Get("/twiml", func(c *fiber.Ctx) error {
			callSid := c.Query("CallSid", "")
			if callSid == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "CallSid missing"})
			}
			c.Type("xml")
			return c.SendString(originator.TwiML(callSid))
		})

		app.Use("/stream", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				c.Locals("allowed", true)
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/stream", websocket.New(func(ws *websocket.Conn) {
			// Twilio media streams are 8 kHz mu-law mono
			b := call.NewBridge(mgr, newStream("mulaw", 8000), newAgent())
			b.Serve(context.Background(), ws)
		}))

		logger.Info("telephony ingest enabled")
	} else {
		logger.Info("telephony ingest disabled, Twilio not configured")
	}

	logger.Info("server listening", "addr", cfg.Addr)
	if err := app.Listen(cfg.Addr); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// ingestKnowledge loads every markdown and text file under dir into the
// knowledge index. Failures are logged per file and never abort startup.
func ingestKnowledge(pipeline *rag.Pipeline, dir string) {
	ctx := context.Background()
	count := 0

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("unreadable knowledge file", "path", path, "error", err)
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}

		var ingestErr error
		if ext == ".md" {
			_, ingestErr = pipeline.IngestMarkdown(ctx, string(content), rel)
		} else {
			_, ingestErr = pipeline.IngestText(ctx, string(content), rel, "")
		}
		if ingestErr != nil {
			logger.Warn("knowledge ingest failed", "path", path, "error", ingestErr)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		logger.Warn("knowledge directory walk failed", "dir", dir, "error", err)
	}
	logger.Info("knowledge base loaded", "dir", dir, "files", count)
}
