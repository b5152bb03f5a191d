// Package config はアプリケーションの設定を管理します
// 環境変数とコマンドラインフラグから設定を読み込み、デフォルト値を提供します
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultPort            = "8080"           // サーバーのデフォルトポート
	defaultSendBuffer      = 256              // 接続ごとの送信キューの上限（フレーム数）
	defaultMaxMessageBytes = 64 * 1024        // 受信フレームの最大サイズ
	defaultPingInterval    = 25 * time.Second // WebSocket ping の間隔
	defaultPongWait        = 60 * time.Second // pong が来ない場合に切断するまでの時間
	defaultWriteWait       = 10 * time.Second // 1フレームの書き込みタイムアウト
	defaultShutdownTimeout = 30 * time.Second // Graceful Shutdown のタイムアウト
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// defaultAllowedOrigins はCORSとWebSocketハンドシェイクで許可するデフォルトのオリジン一覧
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:3001",
	"http://localhost:3002",
}

// 設定キーと対応する環境変数
const (
	keyPort            = "port"
	keyAddr            = "addr"
	keyAllowedOrigins  = "allowed-origins"
	keySendBuffer      = "ws-send-buffer"
	keyMaxMessageBytes = "ws-max-message-bytes"
	keyPingInterval    = "ws-ping-interval"
	keyPongWait        = "ws-pong-wait"
	keyWriteWait       = "ws-write-wait"
	keyShutdownTimeout = "shutdown-timeout"
	keyLogLevel        = "log-level"
	keyLogFormat       = "log-format"
)

var envNames = map[string]string{
	keyPort:            "PORT",
	keyAddr:            "API_ADDR",
	keyAllowedOrigins:  "CORS_ALLOWED_ORIGINS",
	keySendBuffer:      "WS_SEND_BUFFER",
	keyMaxMessageBytes: "WS_MAX_MESSAGE_BYTES",
	keyPingInterval:    "WS_PING_INTERVAL",
	keyPongWait:        "WS_PONG_WAIT",
	keyWriteWait:       "WS_WRITE_WAIT",
	keyShutdownTimeout: "SHUTDOWN_TIMEOUT",
	keyLogLevel:        "LOG_LEVEL",
	keyLogFormat:       "LOG_FORMAT",
}

// WebSocket はトランスポート層の設定です
type WebSocket struct {
	SendBuffer      int           // 接続ごとの送信キューの上限
	MaxMessageBytes int64         // 受信フレームの最大サイズ
	PingInterval    time.Duration // ping の間隔
	PongWait        time.Duration // 読み込みタイムアウト
	WriteWait       time.Duration // 書き込みタイムアウト
}

// Config はアプリケーションの設定を保持します
type Config struct {
	Addr            string   // リッスンアドレス
	AllowedOrigins  []string // 許可するオリジン一覧（"*" で全て許可）
	WebSocket       WebSocket
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string // "text" または "json"
}

// BindFlags はフラグを登録し、viper に紐付けます
// 優先順位は フラグ > 環境変数 > デフォルト値 です
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String(keyPort, defaultPort, "listening port")
	fs.String(keyAddr, "", "listening address (overrides --port), e.g. 127.0.0.1:8080")
	fs.String(keyAllowedOrigins, strings.Join(defaultAllowedOrigins, ","), "comma separated list of allowed origins")
	fs.Int(keySendBuffer, defaultSendBuffer, "per-connection outbound queue size")
	fs.Int64(keyMaxMessageBytes, defaultMaxMessageBytes, "maximum inbound websocket frame size")
	fs.Duration(keyPingInterval, defaultPingInterval, "websocket ping interval")
	fs.Duration(keyPongWait, defaultPongWait, "websocket read deadline")
	fs.Duration(keyWriteWait, defaultWriteWait, "websocket write deadline")
	fs.Duration(keyShutdownTimeout, defaultShutdownTimeout, "graceful shutdown timeout")
	fs.String(keyLogLevel, defaultLogLevel, "log level (debug, info, warn, error)")
	fs.String(keyLogFormat, defaultLogFormat, "log format (text, json)")

	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	return bindEnv(v)
}

func bindEnv(v *viper.Viper) error {
	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Load は viper から設定を読み込みます
// 値が設定されていない、または無効な場合はデフォルト値を使用します
func Load(v *viper.Viper) Config {
	// フラグを登録していない viper でも環境変数を読めるようにする
	_ = bindEnv(v)

	port := orDefault(v.GetString(keyPort), defaultPort)
	addr := v.GetString(keyAddr)
	if addr == "" {
		addr = ":" + strings.TrimPrefix(port, ":")
	}

	return Config{
		Addr:           addr,
		AllowedOrigins: csvOr(v.GetString(keyAllowedOrigins), defaultAllowedOrigins),
		WebSocket: WebSocket{
			SendBuffer:      positiveInt(v, keySendBuffer, defaultSendBuffer),
			MaxMessageBytes: int64(positiveInt(v, keyMaxMessageBytes, defaultMaxMessageBytes)),
			PingInterval:    positiveDuration(v, keyPingInterval, defaultPingInterval),
			PongWait:        positiveDuration(v, keyPongWait, defaultPongWait),
			WriteWait:       positiveDuration(v, keyWriteWait, defaultWriteWait),
		},
		ShutdownTimeout: positiveDuration(v, keyShutdownTimeout, defaultShutdownTimeout),
		LogLevel:        orDefault(v.GetString(keyLogLevel), defaultLogLevel),
		LogFormat:       orDefault(v.GetString(keyLogFormat), defaultLogFormat),
	}
}

// Level はログレベルを slog.Level に変換します
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// positiveInt は整数の設定値を取得します
// 無効な値の場合はデフォルト値を返します
func positiveInt(v *viper.Viper, key string, def int) int {
	if !v.IsSet(key) {
		return def
	}
	i := v.GetInt(key)
	if i <= 0 {
		slog.Warn("invalid config value, fallback to default", "key", key, "value", v.GetString(key), "default", def)
		return def
	}
	return i
}

// positiveDuration は時間の設定値を取得します（"30s" などの形式）
func positiveDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	d := v.GetDuration(key)
	if d <= 0 {
		slog.Warn("invalid config value, fallback to default", "key", key, "value", v.GetString(key), "default", def)
		return def
	}
	return d
}

// csvOr はカンマ区切りの文字列リストを取得します
// 空の場合はデフォルト値を返します
func csvOr(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
