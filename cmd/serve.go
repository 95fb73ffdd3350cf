package cmd

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	chiware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/optcgph/marketplace/escrow"
	"github.com/optcgph/marketplace/logging"
	"github.com/optcgph/marketplace/middleware"
)

// ServeCmd runs the escrow transaction server
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the escrow transaction API",
	Run:   serveRun,
}

func init() {
	ServeCmd.Flags().String("address", ":3333", "the address to listen on")
	Must(viper.BindPFlag("address", ServeCmd.Flags().Lookup("address")))
	Must(viper.BindEnv("address", "ADDR"))

	ServeCmd.Flags().String("datastore", "", "the postgres connection url")
	Must(viper.BindPFlag("datastore", ServeCmd.Flags().Lookup("datastore")))
	Must(viper.BindEnv("datastore", "DATABASE_URL"))

	ServeCmd.Flags().String("sentry-dsn", "", "the sentry dsn to report errors to")
	Must(viper.BindPFlag("sentry-dsn", ServeCmd.Flags().Lookup("sentry-dsn")))
	Must(viper.BindEnv("sentry-dsn", "SENTRY_DSN"))

	ServeCmd.Flags().Int("rate-limit-per-min", 60, "requests per minute per ip")
	Must(viper.BindPFlag("rate-limit-per-min", ServeCmd.Flags().Lookup("rate-limit-per-min")))
	Must(viper.BindEnv("rate-limit-per-min", "RATE_LIMIT_PER_MIN"))

	ServeCmd.Flags().StringSlice("cors-origins", nil, "origins allowed to call the API")
	Must(viper.BindPFlag("cors-origins", ServeCmd.Flags().Lookup("cors-origins")))
	Must(viper.BindEnv("cors-origins", "CORS_ORIGINS"))

	RootCmd.AddCommand(ServeCmd)
}

func serveRun(command *cobra.Command, args []string) {
	ctx := command.Context()
	logger := logging.Logger(ctx, "cmd.serve")

	if dsn := viper.GetString("sentry-dsn"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: viper.GetString("environment"),
			Release:     version,
		})
		if err != nil {
			logger.Panic().Err(err).Msg("unable to setup sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := escrow.NewPostgres(viper.GetString("datastore"), true)
	if err != nil {
		logger.Panic().Err(err).Msg("unable to connect to datastore")
	}

	service, err := escrow.InitService(db)
	if err != nil {
		logger.Panic().Err(err).Msg("unable to initialize escrow service")
	}

	r := chi.NewRouter()
	r.Use(chiware.RequestID)
	r.Use(chiware.RealIP)
	r.Use(chiware.Heartbeat("/"))
	r.Use(chiware.Timeout(15 * time.Second))
	r.Use(hlog.NewHandler(*logger))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(middleware.RequestLogger(logger))

	if origins := viper.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.CallerContext)
		r.Use(middleware.RateLimiter(viper.GetInt("rate-limit-per-min")))
		r.Mount("/transactions", escrow.TransactionsRouter(service))
		r.Mount("/escrow", escrow.EscrowRouter(service))
	})

	r.Get("/metrics", middleware.Metrics())

	go runNotificationWorker(ctx, service)

	addr := viper.GetString("address")
	logger.Info().Str("addr", addr).Msg("starting server")

	srv := http.Server{
		Addr:         addr,
		Handler:      chi.ServerBaseContext(ctx, r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("HTTP server start failed")
	}
}
