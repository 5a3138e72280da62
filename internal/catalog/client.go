package catalog

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Options configure the catalog channel.
type Options struct {
	Host   string
	Port   int
	UseSSL bool
	// Target overrides Host and Port with a full gRPC target.
	Target                  string
	MaxReceiveMessageLength int
	MaxSendMessageLength    int
	KeepaliveTimeout        time.Duration
	// WindowSize is the initial HTTP/2 stream and connection window. Segmentation
	// blobs are large, so the default is close to the protocol maximum.
	WindowSize int32
}

const defaultWindowSize int32 = 2_000_000_000

type Client struct {
	conn grpc.ClientConnInterface
	// closer is nil when the connection is owned by the caller.
	closer func() error
}

// Dial opens a channel to the catalog. extra options are appended last, so
// tests can swap the dialer.
func Dial(opts Options, extra ...grpc.DialOption) (*Client, error) {
	target := opts.Target
	if target == "" {
		if opts.Host == "" || opts.Port < 1 {
			return nil, fmt.Errorf("catalog address %q:%d is incomplete", opts.Host, opts.Port)
		}
		target = net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	}

	creds := insecure.NewCredentials()
	if opts.UseSSL {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	callOpts := []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
	if opts.MaxReceiveMessageLength > 0 {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(opts.MaxReceiveMessageLength))
	}
	if opts.MaxSendMessageLength > 0 {
		callOpts = append(callOpts, grpc.MaxCallSendMsgSize(opts.MaxSendMessageLength))
	}

	window := opts.WindowSize
	if window <= 0 {
		window = defaultWindowSize
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithInitialWindowSize(window),
		grpc.WithInitialConnWindowSize(window),
	}
	if opts.KeepaliveTimeout > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    opts.KeepaliveTimeout,
			Timeout: opts.KeepaliveTimeout,
		}))
	}
	dialOpts = append(dialOpts, extra...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial catalog %s: %w", target, err)
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// NewClient wraps an existing connection; Close leaves it open.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// SegmentationStream yields the responses of one ListSegmentation call.
type SegmentationStream struct {
	cs grpc.ClientStream
}

// Recv returns the next response, or io.EOF after the last one.
func (s *SegmentationStream) Recv() (*SegmentationResponse, error) {
	resp := new(SegmentationResponse)
	if err := s.cs.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListSegmentation sends req and returns the server stream of matching
// products. Cancel ctx to abandon the stream.
func (c *Client) ListSegmentation(ctx context.Context, req *ListSegmentationRequest) (*SegmentationStream, error) {
	cs, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], listSegmentationMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &SegmentationStream{cs: cs}, nil
}
