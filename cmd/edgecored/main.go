// Command edgecored is the Edge Command Service: it hosts the Command
// Handler, Robot Router, Auth Manager, Durable Sync Queue, Audit Sink,
// and Shared State components behind the HTTP API, and runs their
// background loops (offline reaping, queue flush scheduling, audit
// recording, optional MQTT state mirroring, optional error-event webhook
// alerting) until signalled to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edgecore-dev/edgecore/internal/audit"
	"github.com/edgecore-dev/edgecore/internal/auth"
	"github.com/edgecore-dev/edgecore/internal/authmgr"
	"github.com/edgecore-dev/edgecore/internal/clock"
	"github.com/edgecore-dev/edgecore/internal/command"
	"github.com/edgecore-dev/edgecore/internal/config"
	"github.com/edgecore-dev/edgecore/internal/ctxstore"
	"github.com/edgecore-dev/edgecore/internal/events"
	"github.com/edgecore-dev/edgecore/internal/logging"
	"github.com/edgecore-dev/edgecore/internal/models"
	"github.com/edgecore-dev/edgecore/internal/notify"
	"github.com/edgecore-dev/edgecore/internal/queue"
	"github.com/edgecore-dev/edgecore/internal/router"
	"github.com/edgecore-dev/edgecore/internal/state"
	"github.com/edgecore-dev/edgecore/internal/store"
	edgesync "github.com/edgecore-dev/edgecore/internal/sync"
	"github.com/edgecore-dev/edgecore/internal/web"
)

var version = "dev"
var commit = "unknown"

func versionString() string {
	if commit != "" && commit != "unknown" {
		return version + " (" + commit + ")"
	}
	return version
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogJSON)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	fmt.Println("EdgeCore " + versionString())
	fmt.Println("=============================================")
	fmt.Printf("EDGECORE_HTTP_ADDR=%s\n", cfg.HTTPAddr)
	fmt.Printf("CLOUD_BASE_URL=%s\n", cfg.CloudBaseURL)
	fmt.Printf("CLOUD_EDGE_ID=%s\n", cfg.CloudEdgeID)
	fmt.Printf("QUEUE_DB_PATH=%s\n", cfg.QueueDBPath)
	fmt.Printf("SYNC_FLUSH_SCHEDULE=%s\n", cfg.SyncFlushCron)

	auditStore, err := store.Open(cfg.AuditDBPath)
	if err != nil {
		log.Error("failed to open audit/robot store", "error", err)
		os.Exit(1)
	}
	defer auditStore.Close()

	q, err := queue.Open(cfg.QueueDBPath, cfg.QueueMaxSize, cfg.QueueMaxRetry, cfg.QueueBatchSize)
	if err != nil {
		log.Error("failed to open durable sync queue", "error", err)
		os.Exit(1)
	}
	defer q.Close()

	bus := events.New()
	clk := clock.Real{}

	authMgr := authmgr.New(cfg.JWTSecret, bus)
	bootstrapAdmin(authMgr, cfg, log)

	rt := router.New(bus, clk, time.Duration(cfg.RobotOfflineThresholdSec)*time.Second, cfg.SSLVerify)
	seedRobots(rt, cfg, log)

	cs := ctxstore.New()
	cmdHandler := command.New(rt, authMgr, cs, bus, clk, cfg.CommandDefaultTimeoutMS)

	auditSink := audit.New(auditStore)
	if err := auditSink.LoadFromStore(); err != nil {
		log.Warn("failed to replay persisted audit history", "error", err)
	}

	sharedState := state.New(bus)

	jwtProvider := func() (string, error) {
		return authMgr.CreateToken(cfg.CloudEdgeID, "service", auth.TokenTypeAccess, cfg.AccessTokenTTL, cfg.CloudEdgeID)
	}
	syncSvc := edgesync.New(q, cfg.CloudBaseURL, cfg.CloudEdgeID, jwtProvider, cfg.CacheDir, cfg.CacheRetainCount)
	syncScheduler := edgesync.NewScheduler(syncSvc, cfg.SyncFlushCron, log)

	srv := web.NewServer(web.Dependencies{
		Commands:        cmdHandler,
		Robots:          rt,
		Auth:            authMgr,
		Audit:           auditSink,
		State:           sharedState,
		EventBus:        bus,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		MetricsEnabled:  cfg.MetricsEnabled,
		Log:             log.Logger,
	})

	go func() {
		if err := srv.ListenAndServe(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = srv.Shutdown(shutCtx)
	}()

	go rt.RunReaper(ctx)
	go auditSink.Run(ctx, bus)

	go func() {
		if err := syncScheduler.Run(ctx); err != nil {
			log.Error("sync scheduler error", "error", err)
		}
	}()

	go runStatePoller(ctx, sharedState, rt, q, syncSvc)

	if cfg.MQTTBroker != "" {
		mqttSender := notify.NewMQTT(cfg.MQTTBroker, "edgecore/state", cfg.CloudEdgeID, "", "", 0)
		go state.RunMQTTMirror(ctx, bus, "", mqttSender, log)
		log.Info("shared state MQTT mirror enabled", "broker", cfg.MQTTBroker)
	}

	if cfg.AlertWebhookURL != "" {
		webhook := notify.NewWebhook(cfg.AlertWebhookURL, nil)
		go runAlertWebhook(ctx, bus, webhook, log)
		log.Info("error-event webhook alerting enabled", "url", cfg.AlertWebhookURL)
	}

	log.Info("edgecore started", "version", version, "commit", commit)
	<-ctx.Done()
	log.Info("edgecore shutdown complete")
}

// bootstrapAdmin creates the configured admin account on first boot. It is
// a no-op once a user with cfg.AdminUserID is already registered.
func bootstrapAdmin(authMgr *authmgr.Manager, cfg *config.Config, log *logging.Logger) {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return
	}
	err := authMgr.RegisterUser(cfg.AdminUserID, cfg.AdminUsername, cfg.AdminPassword, auth.RoleAdminID)
	if err == nil {
		log.Info("bootstrap admin account created", "username", cfg.AdminUsername)
		return
	}
	if err != authmgr.ErrUserExists {
		log.Error("failed to create bootstrap admin account", "error", err)
		os.Exit(1)
	}
}

// statePollInterval is how often runStatePoller refreshes the Shared State
// view from the robot registry and sync queue.
const statePollInterval = 10 * time.Second

// runStatePoller periodically writes robot, queue, and sync status into
// the Shared State store so GET /api/state and subscribers to its change
// topics (robot.status_updated, queue.status, service.health_changed, and
// the MQTT mirror) reflect current fleet and connectivity health
// without each component having to write to it on every mutation.
func runStatePoller(ctx context.Context, st *state.Store, rt *router.Router, q *queue.Queue, syncSvc *edgesync.Service) {
	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, robot := range rt.ListRobots("", "") {
				st.Set("robot:"+robot.RobotID, robot)
			}
			st.Set("queue:status", q.GetStatistics(ctx))
			st.Set("service:sync", syncSvc.GetCloudStatus())
		}
	}
}

// runAlertWebhook forwards every ERROR-severity event published on the bus
// to the configured webhook, until ctx is cancelled. A delivery failure is
// logged and does not stop the subscription -- the next error event still
// gets a delivery attempt.
func runAlertWebhook(ctx context.Context, bus *events.Bus, webhook *notify.Webhook, log *logging.Logger) {
	ch, unsubscribe := bus.Subscribe("")
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Severity != events.SeverityError {
				continue
			}
			if err := webhook.Send(ctx, evt); err != nil {
				log.Warn("alert webhook delivery failed", "topic", evt.Topic, "error", err)
			}
		}
	}
}

// seedRobots pre-registers robots listed in cfg.RobotSeedFile, a YAML list
// of RobotRegistration entries, so a fresh deployment has a known fleet
// without waiting for each robot to call the registration endpoint itself.
func seedRobots(rt *router.Router, cfg *config.Config, log *logging.Logger) {
	if cfg.RobotSeedFile == "" {
		return
	}
	data, err := os.ReadFile(cfg.RobotSeedFile)
	if err != nil {
		log.Error("failed to read robot seed file", "path", cfg.RobotSeedFile, "error", err)
		os.Exit(1)
	}
	var seeds []models.RobotRegistration
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		log.Error("failed to parse robot seed file", "path", cfg.RobotSeedFile, "error", err)
		os.Exit(1)
	}
	for _, reg := range seeds {
		if reg.Protocol == "" {
			reg.Protocol = models.ProtocolHTTP
		}
		rt.RegisterRobot(reg)
		log.Info("seeded robot", "robot_id", reg.RobotID, "robot_type", reg.RobotType)
	}
}
