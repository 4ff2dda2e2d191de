package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contentdesk/worksync/internal/config"
	"github.com/contentdesk/worksync/internal/session"
	"github.com/contentdesk/worksync/internal/stateapi"
	"github.com/contentdesk/worksync/internal/store"
	"github.com/contentdesk/worksync/internal/studio"
	"github.com/contentdesk/worksync/internal/syncer"
	"github.com/contentdesk/worksync/pkg/logger"
	"github.com/contentdesk/worksync/pkg/util"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			return err
		}
		defer logger.ShutdownFileHandler()
	} else {
		logger.Init("production")
	}

	// 本地持久层: 打不开就降级为内存模式, 不阻止启动
	var st *store.Store
	if cfg.DBPath != "" {
		st, err = store.Open(cfg.DBPath)
		if err != nil {
			logger.Warn("serve: local store unavailable, running in memory",
				logger.FieldPath, cfg.DBPath, logger.FieldError, err)
			st = nil
		} else {
			defer st.Close()
		}
	}
	prefs := store.NewPreferenceManager(st)

	client := studio.NewClient(cfg.StudioBaseURL, cfg.WorkspaceID, cfg.HTTPTimeoutDuration())

	opts := syncer.DefaultOptions()
	if cfg.PollHotMS > 0 {
		opts.PollHot = time.Duration(cfg.PollHotMS) * time.Millisecond
	}
	if cfg.PollIdleMS > 0 {
		opts.PollIdle = time.Duration(cfg.PollIdleMS) * time.Millisecond
	}
	if cfg.ResyncDebounceMS > 0 {
		opts.StructuralResyncDelay = time.Duration(cfg.ResyncDebounceMS) * time.Millisecond
	}

	var cursors syncer.CursorStore
	if st != nil {
		cursors = st
	}

	// 组装: 控制器先建 (listener), 引擎后接
	var ctrl *session.Controller
	listener := listenerFunc(func(view syncer.View) { ctrl.OnViewChanged(view) })
	sync := syncer.New(client, syncer.NewStudioDialer(client), listener, cursors, opts)
	defer sync.Close()
	ctrl = session.New(cfg.WorkspaceID, client, sync, prefs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	server := stateapi.NewServer(ctrl)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Engine()}

	util.SafeGo(func() {
		logger.Info("serve: state api listening", logger.FieldListen, cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve: state api failed", logger.FieldError, err)
			stop()
		}
	})

	<-ctx.Done()
	logger.Info("serve: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// listenerFunc 适配函数为 syncer.Listener。
type listenerFunc func(view syncer.View)

func (f listenerFunc) OnViewChanged(view syncer.View) { f(view) }
