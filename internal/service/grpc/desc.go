package grpcsvc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "booking.v1.BookingService"

const protoFile = "booking/v1/booking.proto"

// Полные имена методов.
const (
	MethodCreateOrder = "/" + ServiceName + "/CreateOrder"
	MethodCancelOrder = "/" + ServiceName + "/CancelOrder"
	MethodGetOrder    = "/" + ServiceName + "/GetOrder"
	MethodListOrders  = "/" + ServiceName + "/ListOrders"
	MethodGetLesson   = "/" + ServiceName + "/GetLesson"
	MethodListLessons = "/" + ServiceName + "/ListLessons"
)

// BookingServer — серверная часть booking.v1.BookingService.
// Запросы и ответы передаются как google.protobuf.Struct.
type BookingServer interface {
	CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetLesson(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListLessons(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(BookingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var methods = []struct {
	name string
	call unaryCall
}{
	{"CreateOrder", BookingServer.CreateOrder},
	{"CancelOrder", BookingServer.CancelOrder},
	{"GetOrder", BookingServer.GetOrder},
	{"ListOrders", BookingServer.ListOrders},
	{"GetLesson", BookingServer.GetLesson},
	{"ListLessons", BookingServer.ListLessons},
}

// ServiceDesc описывает booking.v1.BookingService для grpc.Server.
var ServiceDesc = newServiceDesc()

func newServiceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*BookingServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    protoFile,
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler:    unaryHandler("/"+ServiceName+"/"+m.name, m.call),
		})
	}
	return desc
}

func unaryHandler(fullMethod string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BookingServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BookingServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterBookingServer регистрирует реализацию на сервере.
func RegisterBookingServer(s grpc.ServiceRegistrar, srv BookingServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func init() {
	if err := registerFileDescriptor(); err != nil {
		panic(err)
	}
}

// registerFileDescriptor публикует описание сервиса в protoregistry, чтобы его видел reflection.
func registerFileDescriptor() error {
	if _, err := protoregistry.GlobalFiles.FindFileByPath(protoFile); err == nil {
		return nil
	}

	structType := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())
	service := &descriptorpb.ServiceDescriptorProto{Name: proto.String("BookingService")}
	for _, m := range methods {
		service.Method = append(service.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}

	file, err := protodesc.NewFile(&descriptorpb.FileDescriptorProto{
		Name:       proto.String(protoFile),
		Package:    proto.String("booking.v1"),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Service:    []*descriptorpb.ServiceDescriptorProto{service},
		Syntax:     proto.String("proto3"),
	}, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build %s descriptor: %w", protoFile, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(file); err != nil {
		return fmt.Errorf("register %s descriptor: %w", protoFile, err)
	}
	return nil
}
