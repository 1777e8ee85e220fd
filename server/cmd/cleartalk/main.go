package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"

	"clear-talk/server/internal/api"
	"clear-talk/server/internal/config"
	"clear-talk/server/internal/predictor"
	"clear-talk/server/internal/session"
	"clear-talk/server/internal/timeline"
)

func main() {
	// 参数用 flag，敏感信息（预测服务 API Key）用环境变量。
	// - PREDICTOR_URL / PREDICTOR_API_KEY：外部 NLU/策略服务的地址与凭证
	configPath := flag.String("config", "server/configs/config.yaml", "config file path")
	addr := flag.String("addr", "", "http listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store := session.NewInMemoryStore()
	tl := timeline.NewInMemoryStore()
	pred := predictor.NewHTTPClient(cfg.Predictor)

	server, err := api.NewServer(cfg, store, tl, pred)
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	// 闲置会话靠会话级过期清理：澄清流程中消失的用户随会话一起被清掉。
	store.StartJanitor(context.Background(), cfg.Session.SweepInterval, cfg.Session.MaxInactiveTime)

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	log.Printf("cleartalk server listening on %s", listenAddr)
	if err := http.ListenAndServe(listenAddr, server.Routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
