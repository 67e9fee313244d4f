// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"crypto/tls"
	"flag"
	"os"

	"github.com/go-logr/logr"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/antimetal/counterrates/internal/config"
	"github.com/antimetal/counterrates/internal/diagnostics"
	"github.com/antimetal/counterrates/internal/metrics"
	"github.com/antimetal/counterrates/internal/metrics/consumers/debug"
	"github.com/antimetal/counterrates/internal/metrics/consumers/filesink"
	"github.com/antimetal/counterrates/internal/metrics/consumers/otel"
	"github.com/antimetal/counterrates/internal/runtime"
	"github.com/antimetal/counterrates/internal/sampler"
	"github.com/antimetal/counterrates/pkg/config/environment"
	"github.com/antimetal/counterrates/pkg/sampling"
	"github.com/antimetal/counterrates/pkg/sampling/procfs"
)

var (
	setupLog logr.Logger

	// CLI Options (alphabetical order)
	enableHTTP2 bool
	metricsAddr string
	pprofAddr   string
	probeAddr   string
)

func init() {
	flag.BoolVar(&enableHTTP2, "enable-http2", false,
		"If set, HTTP/2 will be enabled for the metrics server")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080",
		"The address the metric endpoint binds to. Set this to '0' to disable the metrics server")
	flag.StringVar(&pprofAddr, "pprof-address", "0",
		"The address the pprof server binds to. Set this to '0' to disable the pprof server")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081",
		"The address the probe endpoint binds to. Set this to '0' to disable the probe server")

	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	setupLog = ctrl.Log.WithName("setup")
}

func createManager() (manager.Manager, error) {
	// if the enable-http2 flag is false (the default), http/2 should be disabled
	// due to its vulnerabilities. More specifically, disabling http/2 will
	// prevent from being vulnerable to the HTTP/2 Stream Cancelation and
	// Rapid Reset CVEs. For more information see:
	// - https://github.com/advisories/GHSA-qppj-fm5r-hxr3
	// - https://github.com/advisories/GHSA-4374-p667-p6c8
	disableHTTP2 := func(c *tls.Config) {
		setupLog.Info("disabling http/2")
		c.NextProtos = []string{"http/1.1"}
	}

	tlsOpts := []func(*tls.Config){}
	if !enableHTTP2 {
		tlsOpts = append(tlsOpts, disableHTTP2)
	}

	// The agent never talks to an API server, so the manager runs on an
	// empty REST config and only hosts runnables and the HTTP endpoints.
	return manager.New(&rest.Config{}, manager.Options{
		Metrics: metricsserver.Options{
			BindAddress: metricsAddr,
			TLSOpts:     tlsOpts,
		},
		HealthProbeBindAddress: probeAddr,
		PprofBindAddress:       pprofAddr,
		LeaderElection:         false,
	})
}

func main() {
	ctx := ctrl.SetupSignalHandler()

	mgr, err := createManager()
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	// Setup Config Manager
	configMgr, err := config.NewManager(
		config.WithLogger(mgr.GetLogger()),
	)
	if err != nil {
		setupLog.Error(err, "unable to create config manager")
		os.Exit(1)
	}
	if err := mgr.Add(configMgr); err != nil {
		setupLog.Error(err, "unable to register config manager")
		os.Exit(1)
	}

	// Setup Metrics Router. The runner always publishes; consumers are optional.
	router := metrics.NewMetricsRouter(mgr.GetLogger())

	if otel.IsEnabled() {
		otelConfig := otel.GetConfigFromEnvironment()
		otelConfig.ServiceVersion = runtime.Version()
		otelConfig.InstanceID = runtime.GetInstance().ID.String()
		otelConsumer, err := otel.NewConsumer(otelConfig, mgr.GetLogger())
		if err != nil {
			setupLog.Error(err, "unable to create OpenTelemetry consumer")
			os.Exit(1)
		}
		if err := otelConsumer.Start(ctx); err != nil {
			setupLog.Error(err, "unable to start OpenTelemetry consumer")
			os.Exit(1)
		}
		if err := router.RegisterConsumer(otelConsumer); err != nil {
			setupLog.Error(err, "unable to register OpenTelemetry consumer")
			os.Exit(1)
		}
		setupLog.Info("OpenTelemetry consumer started and registered")
	}

	if debug.IsEnabled() {
		debugConfig := debug.GetConfigFromFlags()
		debugConsumer, err := debug.NewConsumer(debugConfig, mgr.GetLogger())
		if err != nil {
			setupLog.Error(err, "unable to create debug consumer")
			os.Exit(1)
		}
		if err := debugConsumer.Start(ctx); err != nil {
			setupLog.Error(err, "unable to start debug consumer")
			os.Exit(1)
		}
		if err := router.RegisterConsumer(debugConsumer); err != nil {
			setupLog.Error(err, "unable to register debug consumer")
			os.Exit(1)
		}
		setupLog.Info("Debug consumer started and registered")
	}

	if filesink.IsEnabled() {
		sinkConsumer, err := filesink.NewConsumer(filesink.GetConfigFromFlags(), mgr.GetLogger())
		if err != nil {
			setupLog.Error(err, "unable to create file sink consumer")
			os.Exit(1)
		}
		if err := sinkConsumer.Start(ctx); err != nil {
			setupLog.Error(err, "unable to start file sink consumer")
			os.Exit(1)
		}
		if err := router.RegisterConsumer(sinkConsumer); err != nil {
			setupLog.Error(err, "unable to register file sink consumer")
			os.Exit(1)
		}
		setupLog.Info("File sink consumer started and registered")
	}

	var hub *diagnostics.Hub
	if diagnostics.Enabled() {
		hub = diagnostics.NewHub(mgr.GetLogger())
		if err := hub.Start(ctx); err != nil {
			setupLog.Error(err, "unable to start stream hub")
			os.Exit(1)
		}
		if err := router.RegisterConsumer(hub); err != nil {
			setupLog.Error(err, "unable to register stream hub")
			os.Exit(1)
		}
	}

	if err := mgr.Add(router); err != nil {
		setupLog.Error(err, "unable to register metrics router")
		os.Exit(1)
	}

	// Get configuration from environment
	nodeName, err := environment.GetNodeName()
	if err != nil {
		setupLog.Error(err, "unable to get node name")
		os.Exit(1)
	}
	clusterName := environment.GetClusterName()
	hostPaths := environment.GetHostPaths()

	pids, err := sampler.PIDsFromFlags()
	if err != nil {
		setupLog.Error(err, "invalid monitored pids")
		os.Exit(1)
	}
	source, err := procfs.NewSource(mgr.GetLogger(), procfs.Config{
		HostProcPath:      hostPaths.Proc,
		HostSysPath:       hostPaths.Sys,
		HostRootPath:      hostPaths.Root,
		PIDs:              pids,
		IncludePartitions: sampler.IncludePartitions(),
	})
	if err != nil {
		setupLog.Error(err, "unable to create counter source")
		os.Exit(1)
	}

	samplingConfig, err := sampler.ConfigFromFlags()
	if err != nil {
		setupLog.Error(err, "invalid sampling flags")
		os.Exit(1)
	}
	newSampler := func(cfg sampling.Config) (*sampling.Sampler, error) {
		return sampling.NewSampler(source,
			sampling.WithLogger(mgr.GetLogger()),
			sampling.WithConfig(cfg),
		)
	}

	// Setup Sampling Runner
	runner, err := sampler.New(router, newSampler, samplingConfig,
		sampler.WithLogger(mgr.GetLogger()),
		sampler.WithConfigLoader(configMgr),
		sampler.WithNodeName(nodeName, clusterName),
	)
	if err != nil {
		setupLog.Error(err, "unable to create sampling runner")
		os.Exit(1)
	}
	if err := mgr.Add(runner); err != nil {
		setupLog.Error(err, "unable to register sampling runner")
		os.Exit(1)
	}

	// Expose the latest results on the manager's /metrics endpoint.
	if err := ctrlmetrics.Registry.Register(diagnostics.NewCollector(runner, mgr.GetLogger())); err != nil {
		setupLog.Error(err, "unable to register prometheus collector")
		os.Exit(1)
	}

	if diagnostics.Enabled() {
		diagServer, err := diagnostics.NewServer(diagnostics.BindAddress(), runner, hub, mgr.GetLogger())
		if err != nil {
			setupLog.Error(err, "unable to create diagnostics server")
			os.Exit(1)
		}
		if err := mgr.Add(diagServer); err != nil {
			setupLog.Error(err, "unable to register diagnostics server")
			os.Exit(1)
		}
	}

	// Final setup and start Manager
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddHealthzCheck("sampler", runner.Healthy); err != nil {
		setupLog.Error(err, "unable to set up sampler health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager",
		"version", runtime.Version(),
		"instance", runtime.GetInstance().ID.String(),
		"node", nodeName)
	if err := mgr.Start(ctx); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
