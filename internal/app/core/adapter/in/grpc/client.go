package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-kipu-bank/internal/app/core/domain"
)

// Receipt 成功交易的回條
type Receipt struct {
	Sequence uint64
	RefID    uuid.UUID
	Balance  domain.Quantity
}

// Client LedgerService 的型別化客戶端
type Client struct {
	conn   grpc.ClientConnInterface
	caller domain.Identity
}

// NewClient 建立客戶端，caller 會以 metadata 帶給服務端
func NewClient(conn grpc.ClientConnInterface, caller domain.Identity) *Client {
	return &Client{conn: conn, caller: caller}
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.caller == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, CallerMetadataKey, string(c.caller))
}

func (c *Client) Deposit(ctx context.Context, refID uuid.UUID, amount domain.Quantity) (*Receipt, error) {
	return c.post(ctx, MethodDeposit, refID, amount)
}

// Receive 直接轉入 (沒有指定 deposit)
func (c *Client) Receive(ctx context.Context, refID uuid.UUID, amount domain.Quantity) (*Receipt, error) {
	return c.post(ctx, MethodReceive, refID, amount)
}

func (c *Client) Withdraw(ctx context.Context, refID uuid.UUID, amount domain.Quantity) (*Receipt, error) {
	return c.post(ctx, MethodWithdraw, refID, amount)
}

func (c *Client) post(ctx context.Context, method string, refID uuid.UUID, amount domain.Quantity) (*Receipt, error) {
	fields := map[string]any{"amount": amount.String()}
	if refID != uuid.Nil {
		fields["ref_id"] = refID.String()
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), method, req, resp); err != nil {
		return nil, err
	}

	if !resp.GetFields()["success"].GetBoolValue() {
		return nil, errorFromDetail(resp.GetFields()["error"].GetStructValue(), stringField(resp, "message"))
	}

	receipt := &Receipt{Sequence: numberField(resp, "seq")}
	if receipt.RefID, err = uuid.Parse(stringField(resp, "ref_id")); err != nil {
		return nil, fmt.Errorf("invalid ref_id in response: %w", err)
	}
	if receipt.Balance, err = quantityField(resp, "balance"); err != nil {
		return nil, err
	}
	return receipt, nil
}

// Balance 查詢任一帳戶餘額
func (c *Client) Balance(ctx context.Context, account domain.Identity) (domain.Quantity, error) {
	req, err := structpb.NewStruct(map[string]any{"account": string(account)})
	if err != nil {
		return domain.Zero, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), MethodGetBalance, req, resp); err != nil {
		return domain.Zero, err
	}
	return quantityField(resp, "balance")
}

func (c *Client) Stats(ctx context.Context) (domain.Stats, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), MethodGetStats, &structpb.Struct{}, resp); err != nil {
		return domain.Stats{}, err
	}
	return statsFromStruct(resp)
}

// Watch 訂閱 Sequence 大於 from 的通知，每筆呼叫 fn，ctx 結束或 fn 回傳錯誤時停止
func (c *Client) Watch(ctx context.Context, from uint64, fn func(domain.Event) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(c.outgoing(ctx), &LedgerServiceDesc.Streams[0], MethodSubscribe)
	if err != nil {
		return err
	}
	req, err := structpb.NewStruct(map[string]any{"from_seq": from})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		event, err := eventFromStruct(msg)
		if err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}
