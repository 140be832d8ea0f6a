// Command epgatewayd is the gateway's composition root, generalized from
// the teacher's examples/wecom-openai-example/main.go: it loads the
// multi-account YAML configuration, wires each account's envelope codec,
// token cache, outbound client, stream/conversation stores, command tree,
// and agent driver, then serves the Bot and Application webhooks for every
// configured account on one HTTP server.
package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/xl370869-art/wecom/internal/ai"
	"github.com/xl370869-art/wecom/internal/command"
	"github.com/xl370869-art/wecom/internal/config"
	"github.com/xl370869-art/wecom/internal/envelope"
	"github.com/xl370869-art/wecom/internal/ep/agent"
	"github.com/xl370869-art/wecom/internal/ep/apphandler"
	"github.com/xl370869-art/wecom/internal/ep/bothandler"
	"github.com/xl370869-art/wecom/internal/ep/client"
	"github.com/xl370869-art/wecom/internal/ep/failover"
	"github.com/xl370869-art/wecom/internal/ep/gateway"
	"github.com/xl370869-art/wecom/internal/ep/stream"
	"github.com/xl370869-art/wecom/internal/ep/token"
	"github.com/xl370869-art/wecom/internal/httpmw"
	"github.com/xl370869-art/wecom/internal/logging"
	"github.com/xl370869-art/wecom/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway's YAML configuration")
	historyDir := flag.String("history-dir", "./history", "directory for per-session chat history")
	logFile := flag.String("log-file", "", "rotating log file path (stderr only if empty)")
	flag.Parse()

	logger := logging.New(logging.Options{FilePath: *logFile})

	watcher, err := config.NewWatcher(*configPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("epgatewayd: load config")
	}

	historyStore, err := ai.NewFileStore(*historyDir)
	if err != nil {
		logger.WithError(err).Fatal("epgatewayd: open history store")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	cfg := watcher.Current()
	httpClient := client.New(client.WithRateLimit(5, 10))
	tokenCache := token.New(&token.HTTPFetcher{BaseURL: "https://qyapi.weixin.qq.com"})
	aiConfig := convertAIConfig(cfg)
	aiService := ai.NewService(aiConfig, historyStore, logger)

	responder := gateway.NewActiveResponder(httpClient)
	commandStore := command.NewMemoryStore()

	var prunable []prunableStore

	for _, account := range cfg.Accounts {
		codec, err := envelope.NewCodec(account.Token, account.EncodingAESKey, account.CorpID)
		if err != nil {
			logger.WithError(err).WithField("account", account.Name).Warn("epgatewayd: skip account, bad codec config")
			continue
		}

		streams := stream.NewStreamStore(10 * time.Minute)
		conversations := stream.NewConversationStore(streams)
		prunable = append(prunable, prunableStore{streams: streams, conversations: conversations})

		applicationConfigured := account.AgentID != "" && account.Secret != ""
		tokenFn := func(ctx context.Context) (string, error) {
			return tokenCache.Get(ctx, account.CorpID, account.AgentID, account.Secret)
		}

		runtime := ai.NewRuntime(aiService, account.DefaultModel)
		driver := agent.NewDriver(runtime, agent.AllowAllCommands, agent.TableModeFlatten)

		commands := command.NewManager(
			command.NewDefaultFactory(),
			commandStore,
			command.WithLogger(logger),
			command.WithResponder(responder),
			command.WithLLM(ai.NewCommandLLM(aiService)),
		)

		accountClient := client.New(client.WithRateLimit(5, 10))
		var mediaSender agent.MediaSender
		if applicationConfigured {
			mediaSender = agent.NewClientMediaSender(context.Background(), accountClient, cfg.ProxyURL, account.AgentID, tokenFn)
		}

		botPipeline := gateway.New(commands, driver, mediaSender, account.CorpID, account.AgentID, applicationConfigured, failover.ChannelBot)
		botPipeline.Logger = logger
		bot, err := bothandler.New(codec, streams, conversations, botPipeline, 500*time.Millisecond,
			bothandler.WithLogger(logger),
			bothandler.WithPlaceholderContent(account.PlaceholderContent),
			bothandler.WithWelcomeText(account.WelcomeText))
		if err != nil {
			logger.WithError(err).WithField("account", account.Name).Warn("epgatewayd: skip account bot handler")
			continue
		}
		mux.Handle("/"+account.Name, httpmw.WithRequestID(bot, logger))
		mux.Handle("/"+account.Name+"/bot", httpmw.WithRequestID(bot, logger))

		if applicationConfigured {
			appPipeline := gateway.New(commands, driver, mediaSender, account.CorpID, account.AgentID, applicationConfigured, failover.ChannelApp)
			appPipeline.Logger = logger
			app := apphandler.New(codec, appPipeline, accountClient, account.AgentID, tokenFn)
			app.ProxyURL = cfg.ProxyURL
			app.Logger = logger
			mux.Handle("/"+account.Name+"/agent", httpmw.WithRequestID(app, logger))
		}

		logger.WithFields(logrus.Fields{"account": account.Name, "application_configured": applicationConfigured}).Info("epgatewayd: account registered")
	}

	if len(prunable) > 0 {
		go prunePeriodically(prunable, 60*time.Second)
	}

	addr := cfg.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	logger.WithField("addr", addr).Info("epgatewayd: listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Fatal("epgatewayd: server exited")
	}
}

type prunableStore struct {
	streams       *stream.StreamStore
	conversations *stream.ConversationStore
}

// prunePeriodically runs the C5 stores' TTL sweep on the 60s cadence the
// core specifies, and feeds the active-streams gauge while it's at it.
func prunePeriodically(stores []prunableStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		total := 0
		for _, s := range stores {
			s.streams.Prune()
			s.conversations.PruneQueues()
			total += s.streams.Len()
		}
		metrics.ActiveStreams.Set(float64(total))
	}
}

func convertAIConfig(cfg *config.Config) *ai.Config {
	out := &ai.Config{DefaultModel: cfg.DefaultModel}
	for _, m := range cfg.Models {
		out.Models = append(out.Models, ai.ModelConfig{
			Name:        m.Name,
			Provider:    m.Provider,
			APIKey:      m.APIKey,
			BaseURL:     m.BaseURL,
			ModelName:   m.ModelName,
			MaxTokens:   m.MaxTokens,
			Temperature: m.Temperature,
		})
	}
	return out
}

