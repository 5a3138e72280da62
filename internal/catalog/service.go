package catalog

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName            = "snapearth.api.v1.database.DatabaseProductService"
	listSegmentationMethod = "/" + serviceName + "/ListSegmentation"
)

// ProductServiceServer is the server side of the product database.
type ProductServiceServer interface {
	ListSegmentation(req *ListSegmentationRequest, stream SegmentationSender) error
}

type SegmentationSender interface {
	Send(*SegmentationResponse) error
	Context() context.Context
}

type segmentationSender struct {
	grpc.ServerStream
}

func (s *segmentationSender) Send(resp *SegmentationResponse) error {
	return s.ServerStream.SendMsg(resp)
}

func listSegmentationHandler(srv any, stream grpc.ServerStream) error {
	req := new(ListSegmentationRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ProductServiceServer).ListSegmentation(req, &segmentationSender{stream})
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ProductServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ListSegmentation",
			Handler:       listSegmentationHandler,
			ServerStreams: true,
		},
	},
	Metadata: "snapearth/api/v1/database.proto",
}

func RegisterProductService(s grpc.ServiceRegistrar, srv ProductServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
