package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/sms-gateway/internal/auth"
	"github.com/af-corp/sms-gateway/internal/config"
)

func main() {
	org := flag.String("org", "", "organization ID (required)")
	name := flag.String("name", "", "human-friendly key name (required)")
	env := flag.String("env", "prod", "environment prefix")
	providers := flag.String("providers", "", "comma-separated providers the key may use (empty = all)")
	rpm := flag.Int("rpm", 0, "requests per minute for this key (0 = gateway default)")
	dailyQuota := flag.Int("daily-quota", 0, "successful sends per UTC day (0 = gateway default)")
	defaultSender := flag.String("default-sender", "", "originator used when a send does not set one")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h)")
	revoke := flag.String("revoke", "", "revoke the key with this ID instead of generating one")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	redisAddr := flag.String("redis-addr", os.Getenv("SMSGW_REDIS_ADDR"), "redis address for cache invalidation on revoke")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, databaseURL(*dbURL))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	if *revoke != "" {
		revokeKey(ctx, conn, *revoke, *redisAddr)
		return
	}

	if *org == "" || *name == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -org and -name are required")
		os.Exit(1)
	}

	// Generate key
	rawKey, err := auth.GenerateKey(*env)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	keyHash := auth.HashKey(rawKey)
	keyPrefix := auth.KeyPrefix(rawKey)

	dur, err := auth.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}
	expiresAt := time.Now().Add(dur)

	allowed := splitList(*providers)

	var keyID string
	err = conn.QueryRow(ctx, `
		INSERT INTO api_keys (key_hash, key_prefix, organization_id, name, allowed_providers,
		                      rpm_limit, daily_quota, default_sender, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, keyHash, keyPrefix, *org, *name, allowed, nilIfZero(*rpm), nilIfZero(*dailyQuota),
		nilIfEmpty(*defaultSender), expiresAt).Scan(&keyID)
	if err != nil {
		log.Fatalf("failed to insert key: %v", err)
	}

	fmt.Println("=== SMS Gateway API Key Generated ===")
	fmt.Println()
	fmt.Printf("  Key ID:         %s\n", keyID)
	fmt.Printf("  Key Prefix:     %s\n", keyPrefix)
	fmt.Printf("  Organization:   %s\n", *org)
	fmt.Printf("  Providers:      %s\n", orDefault(strings.Join(allowed, ", "), "all"))
	fmt.Printf("  RPM:            %s\n", orDefault(intOrEmpty(*rpm), "gateway default"))
	fmt.Printf("  Daily quota:    %s\n", orDefault(intOrEmpty(*dailyQuota), "gateway default"))
	if *defaultSender != "" {
		fmt.Printf("  Sender:         %s\n", *defaultSender)
	}
	fmt.Printf("  Expires:        %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  API Key (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("=====================================")
}

func revokeKey(ctx context.Context, conn *pgx.Conn, keyID, redisAddr string) {
	var keyHash string
	err := conn.QueryRow(ctx, `
		UPDATE api_keys SET status = 'revoked', revoked_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING key_hash
	`, keyID).Scan(&keyHash)
	if err != nil {
		log.Fatalf("failed to revoke key %s: %v", keyID, err)
	}

	// Cached lookups would otherwise keep the key alive until the cache TTL.
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		if err := auth.NewCachedKeyStore(nil, rdb).Invalidate(ctx, keyHash); err != nil {
			log.Printf("warning: key revoked but cache invalidation failed: %v", err)
		}
	}
	fmt.Printf("revoked key %s\n", keyID)
}

func databaseURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	port, _ := strconv.Atoi(envOrDefault("SMSGW_DB_PORT", "5432"))
	return config.DatabaseConfig{
		Host:     envOrDefault("SMSGW_DB_HOST", "localhost"),
		Port:     port,
		Name:     envOrDefault("SMSGW_DB_NAME", "smsgw"),
		User:     envOrDefault("SMSGW_DB_USER", "smsgw"),
		Password: envOrDefault("SMSGW_DB_PASSWORD", "smsgw-dev"),
	}.DSN()
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfZero(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

func intOrEmpty(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
