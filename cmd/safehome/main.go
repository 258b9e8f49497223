package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/spf13/cobra"
	"safehome.dev/backend/internal/audit"
	"safehome.dev/backend/internal/auth"
	"safehome.dev/backend/internal/config"
	"safehome.dev/backend/internal/consent"
	"safehome.dev/backend/internal/database/migrations"
	"safehome.dev/backend/internal/event"
	"safehome.dev/backend/internal/hub"
	"safehome.dev/backend/internal/ingest"
	"safehome.dev/backend/internal/link"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/retention"
	"safehome.dev/backend/internal/store"
	"safehome.dev/backend/internal/store/impl/logstore"
	"safehome.dev/backend/internal/store/impl/pgstore"
	"safehome.dev/backend/internal/util"
	"safehome.dev/backend/internal/webapp"
	"safehome.dev/backend/internal/webstream"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "safehome",
	Short: "Family location sharing backend",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(retentionSweepCmd)
	rootCmd.AddCommand(createAdminCmd)
	createAdminCmd.Flags().String("name", "admin", "display name")
	createAdminCmd.Flags().String("email", "", "login email")
	createAdminCmd.Flags().String("password", "", "login password")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")
}

func connectPool(cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(context.Background(), cfg.DbUrl)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API and stream servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		pool, err := connectPool(cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		st := pgstore.New(pool)
		var locations store.LocationStore = st
		if cfg.DevLogStore {
			locations = logstore.NewStore(st)
		}

		b, err := event.NewBus()
		if err != nil {
			return fmt.Errorf("creating event bus: %w", err)
		}
		h := hub.New()
		h.AttachBus(b)

		recorder := audit.NewRecorder(st)
		registry := link.NewRegistry(st, st, recorder, h)
		gate := consent.NewGate(st)
		ingester := ingest.New(gate, locations, recorder, b)
		sweeper := retention.NewSweeper(locations, st, cfg.RetentionDaysDefault)
		jwtSvc := auth.NewJWTService(cfg.JwtSecret, "safehome")

		api := webapp.NewApi(st, locations, registry, ingester, recorder, sweeper, jwtSvc,
			&webapp.ApiConfig{
				ListenAddr:   cfg.ListenAddr,
				VerifyCSRF:   cfg.VerifyCSRF,
				CookieDomain: cfg.CookieDomain,
				CorsOrigins:  cfg.CorsOrigins,
			})
		stream := webstream.NewServer(jwtSvc, st, registry, ingester, h,
			&webstream.Config{
				ListenAddr:    cfg.StreamListenAddr,
				ProxyProtocol: cfg.ProxyProtocol,
			})

		go stream.Run()
		api.Run()
		return nil
	},
}

func openSqlDb(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DbUrl)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openSqlDb(config.Load())
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrations.Up(db); err != nil {
			return err
		}
		fmt.Println("database is up to date")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openSqlDb(config.Load())
		if err != nil {
			return err
		}
		defer db.Close()
		return migrations.Down(db)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openSqlDb(config.Load())
		if err != nil {
			return err
		}
		defer db.Close()
		version, dirty, err := migrations.Version(db)
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty %v\n", version, dirty)
		return nil
	},
}

var retentionSweepCmd = &cobra.Command{
	Use:   "retention-sweep",
	Short: "Delete location pings older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		pool, err := connectPool(cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		st := pgstore.New(pool)
		sweeper := retention.NewSweeper(st, st, cfg.RetentionDaysDefault)
		result, err := sweeper.Run(cmd.Context())
		if err != nil {
			return err
		}
		out, _ := json.Marshal(result)
		fmt.Println(string(out))
		return nil
	},
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin account",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if len(password) < 8 {
			return fmt.Errorf("password must be at least 8 characters")
		}
		cfg := config.Load()
		pool, err := connectPool(cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		st := pgstore.New(pool)
		u := &model.User{
			Id:           util.GenUUID(),
			Name:         name,
			Email:        email,
			PasswordHash: util.CryptPwd(password),
			Role:         model.RoleAdmin,
		}
		if err := st.CreateUser(cmd.Context(), u); err != nil {
			return err
		}
		fmt.Printf("admin %s created with id %s\n", email, u.Id)
		return nil
	},
}
