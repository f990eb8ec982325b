package fedrpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// TLSFiles names the mTLS material for one side of the connection,
// mirroring internal/hubclient.TLSConfig and the teacher's
// gossip.buildServerTLS cert/key/ca triple.
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

func loadTLSConfig(files TLSFiles, isServer bool) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load cert/key: %w", err)
	}
	caData, err := os.ReadFile(files.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file %q: %w", files.CAFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("parse CA certificate from %q", files.CAFile)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	if isServer {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	} else {
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Dial opens an mTLS gRPC connection to a hub's federation endpoint.
func Dial(ctx context.Context, addr string, files TLSFiles) (*grpc.ClientConn, error) {
	tlsCfg, err := loadTLSConfig(files, false)
	if err != nil {
		return nil, fmt.Errorf("federation client TLS config: %w", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return grpc.DialContext(dialCtx, addr,
		grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)),
		grpc.WithBlock(),
	)
}

// Serve starts the federation gRPC server on addr and blocks until ctx is
// cancelled, mirroring the teacher's gossip.ListenAndServe.
func Serve(ctx context.Context, addr string, files TLSFiles, impl FederationServer, log *zap.Logger) error {
	tlsCfg, err := loadTLSConfig(files, true)
	if err != nil {
		return fmt.Errorf("federation server TLS config: %w", err)
	}
	grpcSrv := grpc.NewServer(
		grpc.Creds(credentials.NewTLS(tlsCfg)),
		grpc.MaxRecvMsgSize(8<<20),
		grpc.MaxSendMsgSize(8<<20),
	)
	grpcSrv.RegisterService(&ServiceDesc, impl)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("federation listen %s: %w", addr, err)
	}

	log.Info("federation gRPC server listening", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	if err := grpcSrv.Serve(lis); err != nil {
		return fmt.Errorf("federation grpc serve: %w", err)
	}
	return nil
}
