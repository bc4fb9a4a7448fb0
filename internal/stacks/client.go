package stacks

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stackspay/gateway/internal/constants"
)

var (
	ErrConfigInvalid     = errors.New("stacks: config invalid")
	ErrRequestFailed     = errors.New("stacks: request failed")
	ErrResponseInvalid   = errors.New("stacks: response invalid")
	ErrBroadcastRejected = errors.New("stacks: broadcast rejected")
	ErrTxNotFound        = errors.New("stacks: transaction not found")
)

// 链上交易状态（Hiro API tx_status 归一化结果）
const (
	TxStatusPending = "pending"
	TxStatusSuccess = "success"
	TxStatusAborted = "aborted"
)

// TransferInput 单笔 STX 转账请求。
// MaxAmountMicroStx 是离开地址金额的硬上限（post-condition），
// 账户状态与本地假设不一致时由链上拒绝而不是超发。
type TransferInput struct {
	SenderKey         []byte
	Recipient         string
	AmountMicroStx    int64
	FeeMicroStx       int64
	Nonce             uint64
	Memo              string
	MaxAmountMicroStx int64
}

// Transaction 链上交易查询结果
type Transaction struct {
	TxID          string
	Status        string
	BlockHeight   int64
	Confirmations int64
}

// Client Stacks 链访问接口
type Client interface {
	GetBalance(ctx context.Context, address string) (int64, error)
	GetNextNonce(ctx context.Context, address string) (uint64, error)
	EstimateTransferFee(ctx context.Context) (int64, error)
	BroadcastTransfer(ctx context.Context, input TransferInput) (string, error)
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
}

// HTTPClient 基于 Hiro API 的实现
type HTTPClient struct {
	baseURL    string
	network    string
	httpClient *http.Client
}

// Config HTTPClient 配置
type Config struct {
	BaseURL          string
	Network          string
	RequestTimeoutMS int
}

// NewHTTPClient 创建链访问客户端
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrConfigInvalid
	}
	timeout := time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	network := strings.ToLower(strings.TrimSpace(cfg.Network))
	if network != constants.NetworkMainnet {
		network = constants.NetworkTestnet
	}
	return &HTTPClient{
		baseURL: baseURL,
		network: network,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type stxBalanceResponse struct {
	Balance string `json:"balance"`
	Locked  string `json:"locked"`
}

// GetBalance 查询地址 STX 余额（microSTX）
func (c *HTTPClient) GetBalance(ctx context.Context, address string) (int64, error) {
	var resp stxBalanceResponse
	if err := c.getJSON(ctx, "/extended/v1/address/"+address+"/stx", &resp); err != nil {
		return 0, err
	}
	balance, err := strconv.ParseInt(strings.TrimSpace(resp.Balance), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: balance %q", ErrResponseInvalid, resp.Balance)
	}
	return balance, nil
}

type nonceResponse struct {
	PossibleNextNonce uint64  `json:"possible_next_nonce"`
	LastExecutedNonce *uint64 `json:"last_executed_tx_nonce"`
}

// GetNextNonce 查询地址下一个可用 nonce
func (c *HTTPClient) GetNextNonce(ctx context.Context, address string) (uint64, error) {
	var resp nonceResponse
	if err := c.getJSON(ctx, "/extended/v1/address/"+address+"/nonces", &resp); err != nil {
		return 0, err
	}
	return resp.PossibleNextNonce, nil
}

// EstimateTransferFee 估算单笔 STX 转账费（microSTX）
func (c *HTTPClient) EstimateTransferFee(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/v2/fees/transfer")
	if err != nil {
		return 0, err
	}
	rate, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: fee rate %q", ErrResponseInvalid, string(body))
	}
	// /v2/fees/transfer 返回每字节费率，按标准转账交易长度折算
	const transferTxLenBytes = 180
	fee := rate * transferTxLenBytes
	if fee <= 0 {
		return 0, fmt.Errorf("%w: non-positive fee estimate", ErrResponseInvalid)
	}
	return fee, nil
}

type broadcastRequest struct {
	SenderKey         string `json:"sender_key"`
	Recipient         string `json:"recipient"`
	AmountMicroStx    int64  `json:"amount"`
	FeeMicroStx       int64  `json:"fee"`
	Nonce             uint64 `json:"nonce"`
	Memo              string `json:"memo,omitempty"`
	MaxAmountMicroStx int64  `json:"max_amount"`
	Network           string `json:"network"`
}

type broadcastResponse struct {
	TxID   string `json:"txid"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// BroadcastTransfer 构造并广播一笔 STX 转账，返回交易ID。
// 当前由签名代理（配置的 api_base_url）完成构签，私钥随请求出进程；
// 代理必须与本服务同机部署或走内网 mTLS。
// TODO: 引入本地 Clarity 交易构签，仅向 /v2/transactions 提交已签名的原始交易。
func (c *HTTPClient) BroadcastTransfer(ctx context.Context, input TransferInput) (string, error) {
	if input.AmountMicroStx <= 0 || strings.TrimSpace(input.Recipient) == "" {
		return "", fmt.Errorf("%w: invalid transfer input", ErrBroadcastRejected)
	}
	payload := broadcastRequest{
		SenderKey:         hex.EncodeToString(input.SenderKey),
		Recipient:         input.Recipient,
		AmountMicroStx:    input.AmountMicroStx,
		FeeMicroStx:       input.FeeMicroStx,
		Nonce:             input.Nonce,
		Memo:              input.Memo,
		MaxAmountMicroStx: input.MaxAmountMicroStx,
		Network:           c.network,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transactions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, statusCode, err := c.do(req)
	if err != nil {
		return "", err
	}

	var resp broadcastResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		// 节点对成功广播可能直接返回带引号的 txid 字符串
		var txid string
		if jsonErr := json.Unmarshal(respBody, &txid); jsonErr == nil && txid != "" {
			return txid, nil
		}
		return "", fmt.Errorf("%w: %s", ErrResponseInvalid, string(respBody))
	}
	if statusCode != http.StatusOK || resp.TxID == "" {
		reason := resp.Reason
		if reason == "" {
			reason = resp.Error
		}
		if reason == "" {
			reason = fmt.Sprintf("http status %d", statusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrBroadcastRejected, reason)
	}
	return resp.TxID, nil
}

type txResponse struct {
	TxID        string `json:"tx_id"`
	TxStatus    string `json:"tx_status"`
	BlockHeight int64  `json:"block_height"`
}

type coreInfoResponse struct {
	StacksTipHeight int64 `json:"stacks_tip_height"`
}

// GetTransaction 查询交易状态与确认数
func (c *HTTPClient) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	var resp txResponse
	if err := c.getJSON(ctx, "/extended/v1/tx/"+txID, &resp); err != nil {
		return nil, err
	}

	tx := &Transaction{
		TxID:        resp.TxID,
		Status:      normalizeTxStatus(resp.TxStatus),
		BlockHeight: resp.BlockHeight,
	}
	if tx.Status == TxStatusSuccess && resp.BlockHeight > 0 {
		var info coreInfoResponse
		if err := c.getJSON(ctx, "/v2/info", &info); err == nil && info.StacksTipHeight >= resp.BlockHeight {
			tx.Confirmations = info.StacksTipHeight - resp.BlockHeight + 1
		}
	}
	return tx, nil
}

func normalizeTxStatus(txStatus string) string {
	switch strings.ToLower(strings.TrimSpace(txStatus)) {
	case "success":
		return TxStatusSuccess
	case "pending", "":
		return TxStatusPending
	default:
		// abort_by_response / abort_by_post_condition / dropped_*
		return TxStatusAborted
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, dest interface{}) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	return nil
}

func (c *HTTPClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	body, statusCode, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusNotFound {
		return nil, ErrTxNotFound
	}
	if statusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %d", ErrRequestFailed, statusCode)
	}
	return body, nil
}

func (c *HTTPClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return body, resp.StatusCode, nil
}
