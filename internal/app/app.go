// Package app はサブコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/authskeleton/internal/auth"
	"github.com/hitoshi/authskeleton/internal/config"
	"github.com/hitoshi/authskeleton/internal/database"
	"github.com/hitoshi/authskeleton/internal/handler"
	"github.com/hitoshi/authskeleton/internal/logger"
	"github.com/hitoshi/authskeleton/internal/metrics"
	"github.com/hitoshi/authskeleton/internal/repository"
	"github.com/hitoshi/authskeleton/internal/user"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、設定されたレベルでJSON構造化ログをセットアップする。
// 設定の読み込みに失敗した場合もINFOレベルのロガーは設定済みの状態で返る。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを再設定
	logger.SetupDefault(w, cfg.SlogLevel())

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck("http://localhost:" + port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_backend", cfg.StoreBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	case CommandDeleteUser:
		if len(args) < 2 || args[1] == "" {
			return errors.New("usage: delete-user <email>")
		}
		return runDeleteUser(ctx, cfg, args[1])
	default:
		return runServe(ctx, cfg)
	}
}

// openStore は設定されたバックエンドのユーザーストアを開く。
// 戻り値のclose関数は呼び出し側が必ず呼ぶこと。
func openStore(ctx context.Context, cfg *config.Config) (repository.UserStore, func() error, error) {
	if cfg.IsSQLBackend() {
		db, err := database.Open(cfg.StoreBackend, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewSQLUserRepo(db, repository.Dialect(cfg.StoreBackend))
		return store, db.Close, nil
	}

	client, err := database.NewDynamoClient(ctx, database.DynamoConfig{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		EndpointURL:     cfg.DynamoDBEndpointURL,
	})
	if err != nil {
		return nil, nil, err
	}
	store := repository.NewDynamoUserRepo(client, cfg.DynamoDBTableUsers)
	return store, func() error { return nil }, nil
}

// buildRouter は認証サービス一式を組み立ててルーターを返す。
// reg には自プロセスのメトリクスが登録される。
func buildRouter(cfg *config.Config, store repository.UserStore, reg *prometheus.Registry, provider auth.OAuthProvider) (http.Handler, error) {
	mc := metrics.NewCollector(reg)

	if provider == nil {
		provider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Timeout:      cfg.ProviderTimeout,
		}, mc)
	}

	tokens := auth.NewTokenIssuer(auth.TokenConfig{
		Secret: []byte(cfg.SecretKey),
		TTL:    cfg.TokenTTL(),
	})
	authService := auth.NewService(provider, store, tokens, mc, auth.ServiceConfig{})

	pages, err := handler.NewPages()
	if err != nil {
		return nil, err
	}

	return handler.NewRouter(&handler.RouterDeps{
		AuthService: authService,
		AuthConfig:  handler.AuthHandlerConfig{CookieSecure: cfg.CookieSecure},
		Resolver:    authService,
		Health:      store,
		Metrics:     mc,
		Gatherer:    reg,
		Logger:      slog.Default(),
		Pages:       pages,
	}), nil
}

// runServe はHTTPサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストア接続
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open user store: %w", err)
	}
	defer closeStore()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to user store: %w", err)
	}

	slog.Info("user store connection established", slog.String("backend", cfg.StoreBackend))

	// 2. メトリクスレジストリ
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 3. ルーターの構築
	router, err := buildRouter(cfg, store, reg, nil)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runMigrate はユーザーストアを準備する。
// DynamoDBではテーブルとemail-indexを作成し、SQLでは未適用のマイグレーションを適用する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	if cfg.IsSQLBackend() {
		slog.Info("running database migrations",
			slog.String("backend", cfg.StoreBackend),
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := database.RunMigrations(cfg.StoreBackend, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
		return nil
	}

	client, err := database.NewDynamoClient(ctx, database.DynamoConfig{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		EndpointURL:     cfg.DynamoDBEndpointURL,
	})
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if err := database.EnsureUsersTable(ctx, client, cfg.DynamoDBTableUsers); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// runDeleteUser はメールアドレスで検索したユーザーを削除する。
func runDeleteUser(ctx context.Context, cfg *config.Config, email string) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open user store: %w", err)
	}
	defer closeStore()

	_, err = user.NewService(store).DeleteByEmail(ctx, email)
	return err
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
