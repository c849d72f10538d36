package errors

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToGRPCStatus는 에러를 gRPC status 에러로 변환합니다
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var appErr *AppError
	if As(err, &appErr) {
		_, grpcCode := GetCodeMapping(appErr.Code())
		return status.Error(codes.Code(grpcCode), appErr.Reason()+": "+appErr.Message())
	}
	return status.Error(codes.Internal, "internal error")
}
