package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ptz-bridge/internal/bridge"
	"ptz-bridge/internal/config"
	"ptz-bridge/internal/gamepad"
	"ptz-bridge/internal/joystick"
	"ptz-bridge/internal/logging"
	"ptz-bridge/internal/panasonic"
	"ptz-bridge/internal/preview"
	"ptz-bridge/internal/ptz"
	"ptz-bridge/internal/server"
	"ptz-bridge/internal/visca"
)

//go:embed web/*
var staticFiles embed.FS

const envPrefix = "PTZBRIDGE_"

const (
	flagConfig            = "config"
	flagController        = "controller"
	flagViscaHost         = "visca-host"
	flagViscaPort         = "visca-port"
	flagProtocol          = "protocol"
	flagCameraAddress     = "camera-address"
	flagWaitForReply      = "wait-for-reply"
	flagReplyTimeout      = "reply-timeout"
	flagPanTiltThreshold  = "pan-tilt-threshold"
	flagPanMaxSpeed       = "pan-max-speed"
	flagTiltMaxSpeed      = "tilt-max-speed"
	flagInvertZAxis       = "invert-z-axis"
	flagMaxZoom           = "max-zoom"
	flagMinUpdateInterval = "min-update-interval"
	flagReconnectInterval = "reconnect-interval"
	flagAxisX             = "axis-x"
	flagAxisY             = "axis-y"
	flagAxisZ             = "axis-z"
	flagPollInterval      = "poll-interval"
	flagListen            = "listen"
	flagRTSP              = "rtsp"
	flagWebInput          = "web-input"
	flagLogLevel          = "log-level"
)

// env names the environment variable backing a flag, e.g. PTZBRIDGE_VISCA_HOST
func env(flag string) []string {
	return []string{envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ptz-bridge:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	def := config.Default()

	return &cli.App{
		Name:  "ptz-bridge",
		Usage: "drive a PTZ camera from a game controller",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, EnvVars: env(flagConfig), Usage: "load configuration from YAML `FILE`; flags override it"},
			&cli.StringFlag{Name: flagController, EnvVars: env(flagController), Usage: "substring of the controller name"},
			&cli.StringFlag{Name: flagViscaHost, EnvVars: env(flagViscaHost), Usage: "camera host name or IP"},
			&cli.IntFlag{Name: flagViscaPort, EnvVars: env(flagViscaPort), Usage: "camera port (default 1259, 80 for panasonic)"},
			&cli.StringFlag{Name: flagProtocol, EnvVars: env(flagProtocol), Value: def.Camera.Protocol, Usage: "udp, udp-ip, tcp or panasonic"},
			&cli.IntFlag{Name: flagCameraAddress, EnvVars: env(flagCameraAddress), Value: def.Camera.Address, Usage: "VISCA camera address 1-7"},
			&cli.BoolFlag{Name: flagWaitForReply, EnvVars: env(flagWaitForReply), Usage: "wait for the camera to acknowledge each VISCA command"},
			&cli.DurationFlag{Name: flagReplyTimeout, EnvVars: env(flagReplyTimeout), Usage: "reply deadline, 0 waits forever"},
			&cli.Float64Flag{Name: flagPanTiltThreshold, EnvVars: env(flagPanTiltThreshold), Value: def.Bridge.PanTiltThreshold, Usage: "pan/tilt dead zone"},
			&cli.IntFlag{Name: flagPanMaxSpeed, EnvVars: env(flagPanMaxSpeed), Value: def.Bridge.PanMaxSpeed, Usage: "pan speed at full deflection (max 24)"},
			&cli.IntFlag{Name: flagTiltMaxSpeed, EnvVars: env(flagTiltMaxSpeed), Value: def.Bridge.TiltMaxSpeed, Usage: "tilt speed at full deflection (max 20)"},
			&cli.BoolFlag{Name: flagInvertZAxis, EnvVars: env(flagInvertZAxis), Value: def.Bridge.InvertZAxis, Usage: "negate the zoom axis"},
			&cli.IntFlag{Name: flagMaxZoom, EnvVars: env(flagMaxZoom), Value: def.Bridge.MaxZoom, Usage: "zoom position at full telephoto"},
			&cli.DurationFlag{Name: flagMinUpdateInterval, EnvVars: env(flagMinUpdateInterval), Value: def.MinUpdateInterval(), Usage: "pause after each command"},
			&cli.DurationFlag{Name: flagReconnectInterval, EnvVars: env(flagReconnectInterval), Value: def.ReconnectInterval(), Usage: "wait between connection attempts"},
			&cli.IntFlag{Name: flagAxisX, EnvVars: env(flagAxisX), Value: def.Controller.AxisX, Usage: "controller axis driving pan"},
			&cli.IntFlag{Name: flagAxisY, EnvVars: env(flagAxisY), Value: def.Controller.AxisY, Usage: "controller axis driving tilt"},
			&cli.IntFlag{Name: flagAxisZ, EnvVars: env(flagAxisZ), Value: def.Controller.AxisZ, Usage: "controller axis driving zoom"},
			&cli.DurationFlag{Name: flagPollInterval, EnvVars: env(flagPollInterval), Value: def.PollInterval(), Usage: "controller read period"},
			&cli.StringFlag{Name: flagListen, EnvVars: env(flagListen), Usage: "web console listen address, e.g. :8080"},
			&cli.StringFlag{Name: flagRTSP, EnvVars: env(flagRTSP), Usage: "camera RTSP URL for the console preview"},
			&cli.BoolFlag{Name: flagWebInput, EnvVars: env(flagWebInput), Usage: "accept joystick input from the web console"},
			&cli.StringFlag{Name: flagLogLevel, EnvVars: env(flagLogLevel), Value: def.LogLevel, Usage: "debug, info, warn or error"},
		},
		Action: run,
	}
}

// loadConfig reads the optional YAML file and applies every flag that was set
// on the command line or through the environment
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	ms := func(name string) int { return int(c.Duration(name) / time.Millisecond) }

	if c.IsSet(flagController) {
		cfg.Controller.Name = c.String(flagController)
	}
	if c.IsSet(flagViscaHost) {
		cfg.Camera.Host = c.String(flagViscaHost)
	}
	if c.IsSet(flagViscaPort) {
		cfg.Camera.Port = c.Int(flagViscaPort)
	}
	if c.IsSet(flagProtocol) {
		cfg.Camera.Protocol = c.String(flagProtocol)
	}
	if c.IsSet(flagCameraAddress) {
		cfg.Camera.Address = c.Int(flagCameraAddress)
	}
	if c.IsSet(flagWaitForReply) {
		cfg.Camera.WaitForReply = c.Bool(flagWaitForReply)
	}
	if c.IsSet(flagReplyTimeout) {
		cfg.Camera.ReplyTimeoutMs = ms(flagReplyTimeout)
	}
	if c.IsSet(flagPanTiltThreshold) {
		cfg.Bridge.PanTiltThreshold = c.Float64(flagPanTiltThreshold)
	}
	if c.IsSet(flagPanMaxSpeed) {
		cfg.Bridge.PanMaxSpeed = c.Int(flagPanMaxSpeed)
	}
	if c.IsSet(flagTiltMaxSpeed) {
		cfg.Bridge.TiltMaxSpeed = c.Int(flagTiltMaxSpeed)
	}
	if c.IsSet(flagInvertZAxis) {
		cfg.Bridge.InvertZAxis = c.Bool(flagInvertZAxis)
	}
	if c.IsSet(flagMaxZoom) {
		cfg.Bridge.MaxZoom = c.Int(flagMaxZoom)
	}
	if c.IsSet(flagMinUpdateInterval) {
		cfg.Bridge.MinUpdateIntervalMs = ms(flagMinUpdateInterval)
	}
	if c.IsSet(flagReconnectInterval) {
		cfg.Bridge.ReconnectIntervalMs = ms(flagReconnectInterval)
	}
	if c.IsSet(flagAxisX) {
		cfg.Controller.AxisX = c.Int(flagAxisX)
	}
	if c.IsSet(flagAxisY) {
		cfg.Controller.AxisY = c.Int(flagAxisY)
	}
	if c.IsSet(flagAxisZ) {
		cfg.Controller.AxisZ = c.Int(flagAxisZ)
	}
	if c.IsSet(flagPollInterval) {
		cfg.Controller.PollIntervalMs = ms(flagPollInterval)
	}
	if c.IsSet(flagListen) {
		cfg.Console.Listen = c.String(flagListen)
	}
	if c.IsSet(flagRTSP) {
		cfg.Console.RTSPURL = c.String(flagRTSP)
	}
	if c.IsSet(flagWebInput) {
		cfg.Console.WebInput = c.Bool(flagWebInput)
	}
	if c.IsSet(flagLogLevel) {
		cfg.LogLevel = c.String(flagLogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newDialer(cfg *config.Config) (ptz.Dialer, error) {
	if cfg.Camera.Protocol == config.ProtocolPanasonic {
		d, err := panasonic.NewDialer(panasonic.Config{
			MaxZoom: uint16(cfg.Bridge.MaxZoom),
			Timeout: cfg.ReplyTimeout(),
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	d, err := visca.NewDialer(visca.Config{
		Protocol:     cfg.Camera.Protocol,
		Address:      cfg.Camera.Address,
		WaitForReply: cfg.Camera.WaitForReply,
		ReplyTimeout: cfg.ReplyTimeout(),
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.New("ptz-bridge", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	dialer, err := newDialer(cfg)
	if err != nil {
		return err
	}

	input := joystick.NewCell()
	b, err := bridge.New(bridge.Config{
		Endpoint:          cfg.Endpoint(),
		Threshold:         cfg.Bridge.PanTiltThreshold,
		PanMaxSpeed:       uint8(cfg.Bridge.PanMaxSpeed),
		TiltMaxSpeed:      uint8(cfg.Bridge.TiltMaxSpeed),
		InvertZ:           cfg.Bridge.InvertZAxis,
		MaxZoom:           uint16(cfg.Bridge.MaxZoom),
		MinUpdateInterval: cfg.MinUpdateInterval(),
		ReconnectInterval: cfg.ReconnectInterval(),
	}, dialer, input.Subscribe(), logger.Named("bridge"))
	if err != nil {
		return err
	}

	var (
		srv    *server.Server
		source *preview.Source
	)
	if cfg.Console.Listen != "" {
		if srv, source, err = newConsole(cfg, b, input, logger); err != nil {
			return err
		}
	} else if cfg.Console.RTSPURL != "" {
		logger.Warnw("RTSP preview needs the web console, ignoring", "rtsp", cfg.Console.RTSPURL)
	}

	logger.Infow("PTZ bridge starting",
		"camera", b.Endpoint(),
		"protocol", cfg.Camera.Protocol,
		"controller", cfg.Controller.Name,
		"console", cfg.Console.Listen,
	)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Controller.Name != "" {
		watcher := gamepad.New(gamepad.Config{
			NameMatch:    cfg.Controller.Name,
			AxisX:        cfg.Controller.AxisX,
			AxisY:        cfg.Controller.AxisY,
			AxisZ:        cfg.Controller.AxisZ,
			PollInterval: cfg.PollInterval(),
		}, input, logger.Named("gamepad"))
		g.Go(func() error { return watcher.Run(ctx) })
	}

	g.Go(func() error { return b.Run(ctx) })

	if srv != nil {
		g.Go(func() error { return srv.Run(ctx) })
	}
	if source != nil {
		g.Go(func() error { return source.Run(ctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Infow("Shutting down")
		return nil
	}
	return err
}

func newConsole(cfg *config.Config, b *bridge.Bridge, input *joystick.Cell, logger *zap.SugaredLogger) (*server.Server, *preview.Source, error) {
	webFS, err := fs.Sub(staticFiles, "web")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to access embedded web files: %w", err)
	}

	var opts []server.Option
	var source *preview.Source
	if cfg.Console.RTSPURL != "" {
		source, err = preview.NewSource(cfg.Console.RTSPURL, logger.Named("preview"))
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, server.WithPreview(source))
	}

	srv := server.New(server.Config{
		ListenAddr: cfg.Console.Listen,
		WebInput:   cfg.Console.WebInput,
		Session:    preview.DefaultSessionConfig(),
	}, webFS, b.Status(), input, logger.Named("server"), opts...)
	return srv, source, nil
}
