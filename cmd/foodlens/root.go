package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/franckalain/foodlens/internal/analysis"
	"github.com/franckalain/foodlens/internal/capture"
	"github.com/franckalain/foodlens/internal/config"
	"github.com/franckalain/foodlens/internal/database"
	"github.com/franckalain/foodlens/internal/flow"
	"github.com/franckalain/foodlens/internal/history"
	"github.com/franckalain/foodlens/internal/logging"
	"github.com/franckalain/foodlens/internal/session"
	"github.com/franckalain/foodlens/internal/storage"
)

const recommendationCount = 3

// app is what every subcommand shares once configuration is loaded.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	db      *database.SQLiteDB
	session *session.Store
	history *history.Client
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		a       = &app{}
	)

	root := &cobra.Command{
		Use:   "foodlens",
		Short: "FoodLens - photograph a meal and see its nutrition",
		Long: `FoodLens captures a photo of a meal from a network camera or a file,
sends it to the analysis proxy and shows the recognised dish with its
macro breakdown, balance and recommended alternatives.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context(), cfgFile)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $FOODLENS_CONFIG or ./config.json)")

	root.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newSnapCmd(a),
		newAnalyzeCmd(a),
		newHistoryCmd(a),
	)
	return root
}

func (a *app) init(ctx context.Context, cfgFile string) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	if cfgFile == "" {
		cfgFile = config.GetConfigPath()
	}
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg
	a.log = logging.Setup(cfg)

	db, err := database.NewSQLiteDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db

	a.session = session.NewStore(db, session.NewAuthClient(cfg.Auth.BaseURL, nil), a.log)
	if err := a.session.Hydrate(ctx); err != nil {
		return err
	}
	a.history = history.NewClient(cfg.History.BaseURL, a.session, nil, a.log)
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// newFlow wires a capture, analyze and display cycle for one command.
func (a *app) newFlow(ctx context.Context, withCamera bool) (*flow.Flow, error) {
	store, err := storage.New(ctx, storage.Options{
		Type:      a.cfg.Storage.Type,
		Dir:       a.cfg.Storage.Dir,
		Bucket:    a.cfg.Storage.Bucket,
		Region:    a.cfg.Storage.Region,
		PublicURL: a.cfg.Storage.PublicURL,
	}, a.log)
	if err != nil {
		return nil, err
	}

	deps := flow.Deps{
		Submitter: analysis.NewClient(a.cfg.Client.ProxyURL, &http.Client{Timeout: 60 * time.Second}, a.log),
		Identity:  a.session,
		Storage:   store,
		History:   a.history,
		Mirror:    a.db,
	}
	if withCamera {
		if a.cfg.Camera.URL == "" {
			return nil, fmt.Errorf("%w: set camera.url or FOODLENS_CAMERA_URL", capture.ErrDeviceNotFound)
		}
		deps.Camera = capture.NewSession(capture.NewMJPEGDevice(a.cfg.Camera.URL), a.log)
	}

	c := capture.DefaultConstraints()
	c.Width, c.Height, c.FacingMode = a.cfg.Camera.Width, a.cfg.Camera.Height, a.cfg.Camera.FacingMode

	return flow.New(deps, flow.Options{
		Constraints:     c,
		Quality:         a.cfg.Client.Quality,
		MaxDimension:    a.cfg.Client.MaxDimension,
		Recommendations: recommendationCount,
	}, a.log), nil
}

// remedial wraps err so the user sees what to do about it.
func remedial(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s (%w)", flow.Remedy(err), err)
}
