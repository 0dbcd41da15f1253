package grpc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
	"github.com/JoeShih716/go-kipu-bank/internal/app/core/usecase"
)

// EventSource 可訂閱的通知來源 (memory.EventBus)
type EventSource interface {
	Subscribe(from uint64) (<-chan domain.Event, func())
}

type GrpcServer struct {
	core   *usecase.CoreUseCase
	events EventSource
	logger *zap.Logger
}

func NewGrpcServer(core *usecase.CoreUseCase, events EventSource, logger *zap.Logger) *GrpcServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrpcServer{
		core:   core,
		events: events,
		logger: logger,
	}
}

type postFunc func(ctx context.Context, refID uuid.UUID, caller domain.Identity, amount domain.Quantity) (*domain.Operation, error)

func (s *GrpcServer) Deposit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.post(ctx, req, s.core.Deposit)
}

// Receive 直接轉入，與 Deposit 走同一條路徑
func (s *GrpcServer) Receive(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.post(ctx, req, s.core.Receive)
}

func (s *GrpcServer) Withdraw(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.post(ctx, req, s.core.Withdraw)
}

func (s *GrpcServer) post(ctx context.Context, req *structpb.Struct, post postFunc) (*structpb.Struct, error) {
	// 1. 當事人 (由執行環境提供)
	caller := callerFrom(ctx, req)
	if caller == "" {
		return softFailure("caller is required", map[string]any{"kind": KindInvalidArgument})
	}

	// 2. UUID 解析，未提供時由帳本產生
	refID := uuid.Nil
	if raw := stringField(req, "ref_id"); raw != "" {
		u, err := uuid.Parse(raw)
		if err != nil {
			return softFailure("invalid ref_id: "+err.Error(), map[string]any{"kind": KindInvalidArgument})
		}
		refID = u
	}

	// 3. 金額
	amount, err := quantityField(req, "amount")
	if err != nil {
		return softFailure("invalid amount: "+err.Error(), map[string]any{"kind": KindInvalidArgument})
	}

	// 4. 執行交易
	op, err := post(ctx, refID, caller, amount)
	if err != nil {
		if detail := errorDetail(err); detail != nil {
			// 業務邏輯錯誤，回傳 success=false (Soft Failure)
			return softFailure(err.Error(), detail)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		if errors.Is(err, domain.ErrSettlementPending) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	// 5. 最新餘額 (Best Effort)
	balance, _ := s.core.BalanceOf(ctx, caller)

	return structpb.NewStruct(map[string]any{
		"success": true,
		"seq":     op.Sequence,
		"ref_id":  op.OperationID.String(),
		"balance": balance.String(),
	})
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	account := stringField(req, "account")
	if account == "" {
		return nil, status.Error(codes.InvalidArgument, "account is required")
	}
	balance, err := s.core.BalanceOf(ctx, domain.Identity(account))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]any{
		"account": account,
		"balance": balance.String(),
	})
}

func (s *GrpcServer) GetStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.core.Stats(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return statsToStruct(stats)
}

// Subscribe 推送 Sequence 大於 from_seq 的通知，直到 client 離開
func (s *GrpcServer) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	if s.events == nil {
		return status.Error(codes.Unimplemented, "event subscription is not enabled")
	}
	events, cancel := s.events.Subscribe(numberField(req, "from_seq"))
	defer cancel()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				// 跟不上被踢掉，client 可以從最後的序號重新訂閱
				return status.Error(codes.ResourceExhausted, "subscriber fell behind")
			}
			msg, err := eventToStruct(event)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func callerFrom(ctx context.Context, req *structpb.Struct) domain.Identity {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(CallerMetadataKey); len(v) > 0 && v[0] != "" {
			return domain.Identity(v[0])
		}
	}
	return domain.Identity(stringField(req, "caller"))
}

func softFailure(message string, detail map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"success": false,
		"message": message,
		"error":   detail,
	})
}

// UnaryLoggingInterceptor 紀錄每個 unary 呼叫
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		fields := []zap.Field{zap.String("method", info.FullMethod)}
		if s, ok := resp.(*structpb.Struct); ok {
			if v, ok := s.GetFields()["success"]; ok && !v.GetBoolValue() {
				fields = append(fields, zap.String("rejected", stringField(s, "message")))
			}
		}
		if err != nil {
			logger.Warn("grpc call failed", append(fields, zap.Error(err))...)
			return resp, err
		}
		logger.Debug("grpc call", fields...)
		return resp, nil
	}
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
