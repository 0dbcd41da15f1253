package grpc

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
)

// 回應中 error.kind 的值
const (
	KindExceedsBankCap         = "ExceedsBankCap"
	KindExceedsWithdrawalLimit = "ExceedsWithdrawalLimit"
	KindInsufficientBalance    = "InsufficientBalance"
	KindPayoutFailed           = "PayoutFailed"
	KindInvalidArgument        = "InvalidArgument"
	KindRefIDConflict          = "RefIDConflict"
)

// ErrInvalidArgument 請求欄位錯誤 (client 端還原用)
var ErrInvalidArgument = errors.New("invalid argument")

// RejectedError 無法還原成 domain 錯誤的業務失敗
type RejectedError struct {
	Kind    string
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

func (e *RejectedError) Is(target error) bool {
	switch e.Kind {
	case KindPayoutFailed:
		return target == domain.ErrPayoutFailed
	case KindInvalidArgument:
		return target == ErrInvalidArgument
	case KindRefIDConflict:
		return target == domain.ErrRefIDConflict
	}
	return false
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func numberField(s *structpb.Struct, key string) uint64 {
	if s == nil {
		return 0
	}
	if v, ok := s.GetFields()[key]; ok {
		return uint64(v.GetNumberValue())
	}
	return 0
}

func quantityField(s *structpb.Struct, key string) (domain.Quantity, error) {
	raw := stringField(s, key)
	if raw == "" {
		return domain.Zero, fmt.Errorf("%s is required", key)
	}
	return domain.ParseQuantity(raw)
}

// errorDetail 業務錯誤轉成 {kind, ...數值}，非業務錯誤回傳 nil
func errorDetail(err error) map[string]any {
	var capErr *domain.ExceedsBankCapError
	var limitErr *domain.ExceedsWithdrawalLimitError
	var balErr *domain.InsufficientBalanceError
	switch {
	case errors.As(err, &capErr):
		return map[string]any{
			"kind":            KindExceedsBankCap,
			"attempted_total": capErr.AttemptedTotal.String(),
			"cap":             capErr.Cap.String(),
		}
	case errors.As(err, &limitErr):
		return map[string]any{
			"kind":      KindExceedsWithdrawalLimit,
			"requested": limitErr.Requested.String(),
			"limit":     limitErr.Limit.String(),
		}
	case errors.As(err, &balErr):
		return map[string]any{
			"kind":      KindInsufficientBalance,
			"available": balErr.Available.String(),
			"requested": balErr.Requested.String(),
		}
	case errors.Is(err, domain.ErrPayoutFailed):
		return map[string]any{"kind": KindPayoutFailed}
	case errors.Is(err, domain.ErrRefIDConflict):
		return map[string]any{"kind": KindRefIDConflict}
	case errors.Is(err, domain.ErrNegativeAmount):
		return map[string]any{"kind": KindInvalidArgument}
	}
	return nil
}

// errorFromDetail client 端把回應還原成 domain 錯誤
func errorFromDetail(detail *structpb.Struct, message string) error {
	q := func(key string) domain.Quantity {
		v, err := domain.ParseQuantity(stringField(detail, key))
		if err != nil {
			return domain.Zero
		}
		return v
	}
	kind := stringField(detail, "kind")
	switch kind {
	case KindExceedsBankCap:
		return &domain.ExceedsBankCapError{AttemptedTotal: q("attempted_total"), Cap: q("cap")}
	case KindExceedsWithdrawalLimit:
		return &domain.ExceedsWithdrawalLimitError{Requested: q("requested"), Limit: q("limit")}
	case KindInsufficientBalance:
		return &domain.InsufficientBalanceError{Available: q("available"), Requested: q("requested")}
	}
	return &RejectedError{Kind: kind, Message: message}
}

func eventToStruct(e domain.Event) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"seq":          e.Sequence,
		"kind":         string(e.Kind),
		"account":      string(e.Account),
		"amount":       e.Amount.String(),
		"operation_id": e.OperationID.String(),
		"created_at":   strconv.FormatInt(e.CreatedAt, 10), // number 會失去奈秒精度
	})
}

func eventFromStruct(s *structpb.Struct) (domain.Event, error) {
	amount, err := quantityField(s, "amount")
	if err != nil {
		return domain.Event{}, err
	}
	opID, err := uuid.Parse(stringField(s, "operation_id"))
	if err != nil {
		return domain.Event{}, fmt.Errorf("invalid operation_id: %w", err)
	}
	createdAt, _ := strconv.ParseInt(stringField(s, "created_at"), 10, 64)
	return domain.Event{
		Sequence:    numberField(s, "seq"),
		Kind:        domain.EventKind(stringField(s, "kind")),
		Account:     domain.Identity(stringField(s, "account")),
		Amount:      amount,
		OperationID: opID,
		CreatedAt:   createdAt,
	}, nil
}

func statsToStruct(s domain.Stats) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"administrator":     string(s.Administrator),
		"withdrawal_limit":  s.WithdrawalLimit.String(),
		"bank_cap":          s.BankCap.String(),
		"total_deposits":    s.TotalDeposits.String(),
		"total_withdrawals": s.TotalWithdrawals.String(),
		"deposit_count":     s.DepositCount,
		"withdrawal_count":  s.WithdrawalCount,
	})
}

func statsFromStruct(s *structpb.Struct) (domain.Stats, error) {
	out := domain.Stats{
		Administrator:   domain.Identity(stringField(s, "administrator")),
		DepositCount:    numberField(s, "deposit_count"),
		WithdrawalCount: numberField(s, "withdrawal_count"),
	}
	var err error
	if out.WithdrawalLimit, err = quantityField(s, "withdrawal_limit"); err != nil {
		return out, err
	}
	if out.BankCap, err = quantityField(s, "bank_cap"); err != nil {
		return out, err
	}
	if out.TotalDeposits, err = quantityField(s, "total_deposits"); err != nil {
		return out, err
	}
	if out.TotalWithdrawals, err = quantityField(s, "total_withdrawals"); err != nil {
		return out, err
	}
	return out, nil
}
