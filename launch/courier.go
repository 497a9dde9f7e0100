package launch

import (
	"net"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// gracePeriod bounds GracefulStop of a courier before open streams are cut.
var gracePeriod = 5 * time.Second

// serveCourier registers the services of a courier node on a new gRPC
// server and serves lis until the program stops. Every courier exposes the
// standard health service.
func serveCourier(ctx types.Context, service types.ServiceFunc, lis net.Listener, args types.Data) error {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	if err := service(ctx, srv, args); err != nil {
		lis.Close()
		return errors.Annotatef(err, "register services of %s", ctx.Label())
	}

	ctx.RegisterStopHandler(func() {
		hs.Shutdown()
		go stopServer(srv)
	})

	log.Debugf("courier %s serving on %s", ctx.Label(), lis.Addr())
	err := srv.Serve(lis)
	if err == grpc.ErrServerStopped || ctx.WaitForStopTimeout(0) {
		return nil
	}
	return errors.Annotatef(err, "serve %s", ctx.Label())
}

func stopServer(srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(gracePeriod)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		srv.Stop()
	}
}
