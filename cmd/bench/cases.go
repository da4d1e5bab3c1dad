// README: Probe cases; environment, negotiation flow, concurrent accept and pricing throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// Shared between flow cases, which run in order.
	bookingID      string
	quotationID    string
	counterOfferID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:       cfg,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		bookingID: "bench-" + uuid.NewString()[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "dsn not set"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "Redis reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not set"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "Apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "Tables from migrations/0001_init.sql",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "dsn not set"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "API: health",
			Focus: "API answers",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, latency, err := r.call(ctx, http.MethodGet, "/health", "", nil)
				return expect(status, latency, err, http.StatusOK)
			},
		},
		{
			Name:  "Auth: missing token -> 401",
			Focus: "API requires bearer token",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, latency, err := r.call(ctx, http.MethodGet, "/api/quotations/none", "", nil)
				return expect(status, latency, err, http.StatusUnauthorized)
			},
		},
		{
			Name:  "Quotation: submit",
			Focus: "Transport submits a verified breakdown",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.JWTSecret == "" {
					return Result{Status: "SKIP", Note: "jwt-secret not set"}
				}
				status, body, latency, err := r.submitQuotation(ctx, r.bookingID, "bench-t1", 1_000_000)
				if res := expect(status, latency, err, http.StatusCreated); res.Status != "PASS" {
					return res
				}
				r.quotationID, _ = body["id"].(string)
				return Result{Status: "PASS", Latency: latency, Note: "quotation=" + r.quotationID}
			},
		},
		{
			Name:  "Quotation: duplicate pending -> 409",
			Focus: "One pending quotation per transport and booking",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.quotationID == "" {
					return Result{Status: "SKIP", Note: "no quotation"}
				}
				status, _, latency, err := r.submitQuotation(ctx, r.bookingID, "bench-t1", 950_000)
				return expect(status, latency, err, http.StatusConflict)
			},
		},
		{
			Name:  "Counter-offer: price not below current -> 422",
			Focus: "Offered price strictly below quotation price",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.quotationID == "" {
					return Result{Status: "SKIP", Note: "no quotation"}
				}
				status, _, latency, err := r.call(ctx, http.MethodPost, "/api/quotations/"+r.quotationID+"/counter-offers",
					r.token("bench-customer", "customer"), map[string]any{"offered_price": 1_000_000})
				return expect(status, latency, err, http.StatusUnprocessableEntity)
			},
		},
		{
			Name:  "Counter-offer: propose",
			Focus: "Customer proposes 900000",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.quotationID == "" {
					return Result{Status: "SKIP", Note: "no quotation"}
				}
				status, body, latency, err := r.call(ctx, http.MethodPost, "/api/quotations/"+r.quotationID+"/counter-offers",
					r.token("bench-customer", "customer"), map[string]any{"offered_price": 900_000, "reason": "bench"})
				if res := expect(status, latency, err, http.StatusCreated); res.Status != "PASS" {
					return res
				}
				r.counterOfferID, _ = body["id"].(string)
				return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("percentage_change=%v", body["percentage_change"])}
			},
		},
		{
			Name:  "Concurrency: multi accept same counter-offer",
			Focus: "Exactly one ACCEPT wins",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.counterOfferID == "" {
					return Result{Status: "SKIP", Note: "no counter-offer"}
				}
				return concurrentAccept(ctx, r, "/api/counter-offers/"+r.counterOfferID+"/respond",
					r.token("bench-t1", "transport"), map[string]any{"decision": "ACCEPT"})
			},
		},
		{
			Name:  "Binding: bound at counter price",
			Focus: "Binding carries 900000",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.counterOfferID == "" {
					return Result{Status: "SKIP", Note: "no counter-offer"}
				}
				status, body, latency, err := r.call(ctx, http.MethodGet, "/api/bookings/"+r.bookingID+"/binding",
					r.token("bench-customer", "customer"), nil)
				if res := expect(status, latency, err, http.StatusOK); res.Status != "PASS" {
					return res
				}
				if price, _ := body["final_price"].(float64); price != 900_000 {
					return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("final_price=%v", body["final_price"])}
				}
				return Result{Status: "PASS", Latency: latency}
			},
		},
		{
			Name:  "Concurrency: accept competing quotations",
			Focus: "Exactly one quotation binds a booking",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.JWTSecret == "" {
					return Result{Status: "SKIP", Note: "jwt-secret not set"}
				}
				booking := r.bookingID + "-race"
				ids := make([]string, 0, 4)
				for i := 0; i < 4; i++ {
					status, body, _, err := r.submitQuotation(ctx, booking, fmt.Sprintf("bench-t%d", i+1), int64(1_000_000+i*1000))
					if err != nil || status != http.StatusCreated {
						return Result{Status: "FAIL", Note: fmt.Sprintf("seed status=%d err=%v", status, err)}
					}
					id, _ := body["id"].(string)
					ids = append(ids, id)
				}
				paths := make([]string, 0, r.cfg.Concurrency)
				for i := 0; i < r.cfg.Concurrency; i++ {
					paths = append(paths, "/api/quotations/"+ids[i%len(ids)]+"/accept")
				}
				return concurrentPaths(ctx, r, paths, r.token("bench-customer", "customer"), nil)
			},
		},
		{
			Name:  "Perf: pricing quote throughput",
			Focus: "Stateless price computation",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.JWTSecret == "" {
					return Result{Status: "SKIP", Note: "jwt-secret not set"}
				}
				payload := map[string]any{
					"transport_id": r.cfg.TransportID,
					"distance_km":  12.5,
					"pickup_floor": 4,
					"items":        []map[string]any{},
				}
				status, _, _, err := r.call(ctx, http.MethodPost, "/api/pricing/quote", r.token("bench-customer", "customer"), payload)
				if err == nil && status == http.StatusNotFound {
					return Result{Status: "PENDING", Note: "no rate card for " + r.cfg.TransportID}
				}
				return perfLoad(ctx, r, "/api/pricing/quote", r.token("bench-customer", "customer"), payload)
			},
		},
	}
}

// token signs an HS256 token the API accepts when running with auth.mode=jwt.
func (r *Runner) token(uid, role string) string {
	if r.cfg.JWTSecret == "" {
		return ""
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  uid,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	s, err := t.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return ""
	}
	return s
}

func (r *Runner) submitQuotation(ctx context.Context, booking, transport string, total int64) (int, map[string]any, time.Duration, error) {
	return r.call(ctx, http.MethodPost, "/api/quotations", r.token(transport, "transport"), map[string]any{
		"booking_id":   booking,
		"transport_id": transport,
		"breakdown": map[string]any{
			"base_price":      total,
			"subtotal":        total,
			"total":           total,
			"time_multiplier": 1,
			"breakdown":       []map[string]any{{"label": "Base price", "amount": total}},
		},
	})
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (int, map[string]any, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, out, latency, nil
}

func expect(status int, latency time.Duration, err error, want int) Result {
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	note := fmt.Sprintf("status=%d", status)
	if status != want {
		return Result{Status: "FAIL", Latency: latency, Note: note}
	}
	return Result{Status: "PASS", Latency: latency, Note: note}
}

func concurrentAccept(ctx context.Context, r *Runner, path, token string, body any) Result {
	paths := make([]string, r.cfg.Concurrency)
	for i := range paths {
		paths[i] = path
	}
	return concurrentPaths(ctx, r, paths, token, body)
}

// concurrentPaths fires one request per path at once; exactly one must succeed and every
// loser must see 409.
func concurrentPaths(ctx context.Context, r *Runner, paths []string, token string, body any) Result {
	var wg sync.WaitGroup
	var mu sync.Mutex
	succ, conflict, other := 0, 0, 0

	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			status, _, _, err := r.call(ctx, http.MethodPost, p, token, body)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other++
			case status >= 200 && status < 300:
				succ++
			case status == http.StatusConflict:
				conflict++
			default:
				other++
			}
		}(p)
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%d", succ, conflict, other)
	if succ == 1 && other == 0 {
		return Result{Status: "PASS", Note: note}
	}
	return Result{Status: "FAIL", Note: note}
}

func perfLoad(ctx context.Context, r *Runner, path, token string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count int64
	var errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.call(ctx, http.MethodPost, path, token, payload)
				mu.Lock()
				if err != nil || status >= 500 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
