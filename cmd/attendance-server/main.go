// ABOUTME: Entry point for the attendance-server clinic attendance engine
// ABOUTME: Serves the HTTP API and provides operational subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/clinova/attendance/internal/accrual"
	"github.com/clinova/attendance/internal/auth"
	"github.com/clinova/attendance/internal/config"
	"github.com/clinova/attendance/internal/risk"
	"github.com/clinova/attendance/internal/server"
	"github.com/clinova/attendance/internal/session"
	"github.com/clinova/attendance/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the server config file.
// Priority: ATTENDANCE_CONFIG env var > XDG_CONFIG_HOME/attendance/server.yaml > ~/.config/attendance/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ATTENDANCE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "attendance", "server.yaml")
}

func main() {
	// Local .env files hold secrets in development; missing is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: attendance-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                       Start the attendance server")
		fmt.Println("  init                        Write a starter config file")
		fmt.Println("  import-locations <file>     Load work locations and assignments from TOML")
		fmt.Println("  token --user <id>           Generate a staff bearer token")
		fmt.Println("  accruals [--redeliver]      Inspect or flush the accrual outbox")
		fmt.Println("  locations                   List configured work locations")
		fmt.Println("  validations --user <id>     Show recent validation audit rows for a user")
		fmt.Println("  health                      Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "import-locations":
		err = runImportLocations(ctx)
	case "token":
		err = runToken()
	case "accruals":
		err = runAccruals(ctx)
	case "locations":
		err = runLocations(ctx)
	case "validations":
		err = runValidations(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	gray.Printf("attendance-server %s\n\n", version)
	green.Print("  ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("  ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("  ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("  ▶ ")
	fmt.Printf("Timezone: %s\n\n", cfg.Attendance.Timezone)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	notifier := buildNotifier(cfg, logger)
	svc := session.NewService(
		st,
		risk.NewAnalyzer(cfg.Risk),
		notifier,
		session.Config{
			MinimumSessionMinutes: cfg.Attendance.MinimumSessionMinutes,
			Location:              cfg.Location(),
		},
		logger,
	)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.New(svc, verifier, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting attendance-server",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"timezone", cfg.Attendance.Timezone,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) accrual.Notifier {
	if cfg.Accrual.Mode == "webhook" {
		return accrual.NewWebhookNotifier(cfg.Accrual.WebhookURL, cfg.Accrual.Timeout, logger)
	}
	return accrual.NewLogNotifier(logger)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configContent := `# attendance-server configuration
# Generated by attendance-server init

server:
  http_addr: ":8080"

database:
  path: "data/attendance.db"

auth:
  jwt_secret: "${ATTENDANCE_JWT_SECRET}"
  token_ttl: "12h"

logging:
  level: "info"
  format: "text"

attendance:
  minimum_session_minutes: 30
  timezone: "Asia/Jakarta"

# Spoofing heuristics; omit to keep the defaults.
# risk:
#   block_at: 80
#   flag_at: 60
#   warn_at: 30

accrual:
  mode: "log"
  # mode: "webhook"
  # webhook_url: "https://payroll.internal/accruals"
  # timeout: "10s"
`

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Config written to %s\n", configPath)
	fmt.Println("Set ATTENDANCE_JWT_SECRET, then:")
	fmt.Println("  attendance-server import-locations sites.toml")
	fmt.Println("  attendance-server serve")
	return nil
}

// seedFile is the TOML layout for import-locations: a list of work sites
// and the staff assigned to them.
type seedFile struct {
	Locations   []seedLocation   `toml:"location"`
	Assignments []seedAssignment `toml:"assignment"`
}

type seedLocation struct {
	ID               string  `toml:"id"`
	Name             string  `toml:"name"`
	Latitude         float64 `toml:"latitude"`
	Longitude        float64 `toml:"longitude"`
	RadiusMeters     float64 `toml:"radius_meters"`
	Type             string  `toml:"type"`
	StrictGeofence   bool    `toml:"strict_geofence"`
	RequirePhoto     bool    `toml:"require_photo"`
	AllowUnscheduled bool    `toml:"allow_unscheduled"`

	LateToleranceMinutes           int     `toml:"late_tolerance_minutes"`
	EarlyDepartureToleranceMinutes int     `toml:"early_departure_tolerance_minutes"`
	CheckInBeforeShiftMinutes      int     `toml:"check_in_before_shift_minutes"`
	CheckOutAfterShiftMinutes      int     `toml:"check_out_after_shift_minutes"`
	GPSAccuracyRequired            float64 `toml:"gps_accuracy_required_meters"`
}

type seedAssignment struct {
	UserID     string `toml:"user_id"`
	LocationID string `toml:"location_id"`
	ShiftStart string `toml:"shift_start"`
	ShiftEnd   string `toml:"shift_end"`
}

func runImportLocations(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: attendance-server import-locations <file.toml>")
	}
	seedPath := os.Args[2]

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var seed seedFile
	if _, err := toml.DecodeFile(seedPath, &seed); err != nil {
		return fmt.Errorf("parsing %s: %w", seedPath, err)
	}
	if len(seed.Locations) == 0 && len(seed.Assignments) == 0 {
		return fmt.Errorf("%s contains no locations or assignments", seedPath)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	green := color.New(color.FgGreen)
	for _, l := range seed.Locations {
		loc := &store.WorkLocation{
			ID:               l.ID,
			Name:             l.Name,
			Latitude:         l.Latitude,
			Longitude:        l.Longitude,
			RadiusMeters:     l.RadiusMeters,
			LocationType:     l.Type,
			StrictGeofence:   l.StrictGeofence,
			RequirePhoto:     l.RequirePhoto,
			AllowUnscheduled: l.AllowUnscheduled,

			LateToleranceMinutes:           l.LateToleranceMinutes,
			EarlyDepartureToleranceMinutes: l.EarlyDepartureToleranceMinutes,
			CheckInBeforeShiftMinutes:      l.CheckInBeforeShiftMinutes,
			CheckOutAfterShiftMinutes:      l.CheckOutAfterShiftMinutes,
			GPSAccuracyRequiredMeters:      l.GPSAccuracyRequired,
		}
		if err := st.CreateWorkLocation(ctx, loc); err != nil {
			return fmt.Errorf("creating location %s: %w", l.ID, err)
		}
		green.Print("  ✓ ")
		fmt.Printf("Location %s (%s)\n", l.Name, l.ID)
	}

	for _, a := range seed.Assignments {
		if err := st.UpsertAssignment(ctx, &store.StaffAssignment{
			UserID:         a.UserID,
			WorkLocationID: a.LocationID,
			ShiftStart:     a.ShiftStart,
			ShiftEnd:       a.ShiftEnd,
			Active:         true,
		}); err != nil {
			return fmt.Errorf("assigning %s: %w", a.UserID, err)
		}
		green.Print("  ✓ ")
		fmt.Printf("Assignment %s -> %s (%s-%s)\n", a.UserID, a.LocationID, a.ShiftStart, a.ShiftEnd)
	}

	fmt.Printf("\nImported %d location(s), %d assignment(s)\n", len(seed.Locations), len(seed.Assignments))
	return nil
}

func runToken() error {
	var userID string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || arg == "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("--user requires a value")
			}
			userID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--user="):
			userID = strings.TrimPrefix(arg, "--user=")
		default:
			return fmt.Errorf("unknown argument: %s", arg)
		}
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("--user flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(userID, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runAccruals(ctx context.Context) error {
	redeliver := len(os.Args) > 2 && os.Args[2] == "--redeliver"

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	if redeliver {
		delivered, err := accrual.Redeliver(ctx, st, buildNotifier(cfg, logger), logger)
		if err != nil {
			return fmt.Errorf("redelivering: %w", err)
		}
		fmt.Printf("Delivered %d event(s)\n", delivered)
		return nil
	}

	events, err := st.ListUndeliveredAccrualEvents(ctx, 0)
	if err != nil {
		return fmt.Errorf("listing undelivered events: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("Outbox is empty")
		return nil
	}
	for _, e := range events {
		fmt.Printf("%s  user=%s date=%s duration=%dm late=%t\n",
			e.ID, e.UserID, e.Date, e.DurationMinutes, e.IsLate)
	}
	fmt.Printf("\n%d undelivered event(s); run with --redeliver to flush\n", len(events))
	return nil
}

func runLocations(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	locations, err := st.ListWorkLocations(ctx)
	if err != nil {
		return fmt.Errorf("listing work locations: %w", err)
	}
	if len(locations) == 0 {
		fmt.Println("No work locations; seed them with import-locations")
		return nil
	}

	for _, l := range locations {
		flags := ""
		if l.StrictGeofence {
			flags += " strict"
		}
		if l.AllowUnscheduled {
			flags += " unscheduled-ok"
		}
		fmt.Printf("%s  %s (%s) @ %.6f,%.6f r=%.0fm%s\n",
			l.ID, l.Name, l.LocationType, l.Latitude, l.Longitude, l.RadiusMeters, flags)
	}
	return nil
}

// runValidations prints the recent audit rows for one user, most recent
// first. Operators use it when a spoofing flag needs a second look.
func runValidations(ctx context.Context) error {
	var userID string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || arg == "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("--user requires a value")
			}
			userID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--user="):
			userID = strings.TrimPrefix(arg, "--user=")
		default:
			return fmt.Errorf("unknown argument: %s", arg)
		}
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("--user flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	rows, err := st.ListValidationsByUser(ctx, userID, 20)
	if err != nil {
		return fmt.Errorf("listing validations: %w", err)
	}
	if len(rows) == 0 {
		fmt.Printf("No validations recorded for %s\n", userID)
		return nil
	}

	for _, v := range rows {
		indicators := ""
		if len(v.SpoofingIndicators) > 0 {
			indicators = " [" + strings.Join(v.SpoofingIndicators, ",") + "]"
		}
		fmt.Printf("%s  %-9s dist=%.1fm acc=%.1fm score=%d %s/%s%s\n",
			v.CreatedAt.Format("2006-01-02 15:04:05"),
			v.Phase, v.DistanceMeters, v.AccuracyMeters,
			v.RiskScore, v.RiskLevel, v.ActionTaken, indicators)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/healthz", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
