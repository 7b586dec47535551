package cmd

import (
	"context"
	"time"

	"github.com/foomo/keel"
	"github.com/foomo/keel/healthz"
	"github.com/foomo/keel/net/http/middleware"
	"github.com/foomo/keel/service"
	"github.com/foomo/templatestore/pkg/handler"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func NewServeCommand(v *viper.Viper) *cobra.Command {
	service.DefaultHTTPPProfAddr = ":6060"

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start http server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svr := keel.NewServer(
				keel.WithHTTPPrometheusService(servicePrometheusEnabledFlag(v)),
				keel.WithHTTPHealthzService(serviceHealthzEnabledFlag(v)),
				keel.WithPrometheusMeter(servicePrometheusEnabledFlag(v)),
				keel.WithGracefulPeriod(gracefulPeriodFlag(v)),
				keel.WithOTLPGRPCTracer(otelEnabledFlag(v)),
				keel.WithHTTPPProfService(servicePProfEnabledFlag(v)),
			)

			l := svr.Logger()

			// a server never prompts, a directory has to be granted by flag or before
			m, closeFn, err := createManager(v, l.Named("inst"), cmd, false)
			if err != nil {
				return err
			}

			isBoundHealthzerFn := healthz.NewHealthzerFn(func(ctx context.Context) error {
				return m.Init(ctx)
			})
			svr.AddStartupHealthzers(isBoundHealthzerFn)
			svr.AddReadinessHealthzers(isBoundHealthzerFn)

			svr.AddClosers(func(ctx context.Context) error {
				return closeFn()
			})

			if interval := infoIntervalFlag(v); interval > 0 {
				svr.AddServices(
					service.NewGoRoutine(l.Named("go.info"), "info", func(ctx context.Context, l *zap.Logger) error {
						ticker := time.NewTicker(interval)
						defer ticker.Stop()
						for {
							if _, err := m.StorageInfo(ctx); err != nil {
								l.Warn("failed to refresh storage info", zap.Error(err))
							}
							select {
							case <-ctx.Done():
								return nil
							case <-ticker.C:
							}
						}
					}),
				)
			}

			svr.AddServices(
				service.NewHTTP(l.Named("svc.http"), "http", addressFlag(v),
					handler.NewHTTP(l.Named("inst.handler"), m, handler.WithBasePath(basePathFlag(v))),
					middleware.Telemetry(),
					middleware.Logger(),
					middleware.GZip(middleware.GZipWithLevel(gzipLevelFlag(v))),
					middleware.Recover(),
				),
			)

			svr.Run()
			return nil
		},
	}

	flags := cmd.Flags()
	addAddressFlag(flags, v)
	addBasePathFlag(flags, v)
	addInfoIntervalFlag(flags, v)
	addGzipLevelFlag(flags, v)
	addGracefulPeriodFlag(flags, v)
	addOtelEnabledFlag(flags, v)
	addServiceHealthzEnabledFlag(flags, v)
	addServicePrometheusEnabledFlag(flags, v)
	addServicePProfEnabledFlag(flags, v)

	return cmd
}
