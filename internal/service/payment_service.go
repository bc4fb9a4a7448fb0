package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/stackspay/gateway/internal/config"
	"github.com/stackspay/gateway/internal/constants"
	"github.com/stackspay/gateway/internal/logger"
	"github.com/stackspay/gateway/internal/models"
	"github.com/stackspay/gateway/internal/queue"
	"github.com/stackspay/gateway/internal/repository"
	"github.com/stackspay/gateway/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentService 支付服务。
// 负责支付创建、查询、取消以及到期清扫；状态迁移全部走条件更新。
type PaymentService struct {
	paymentRepo  repository.PaymentRepository
	merchantRepo repository.MerchantRepository
	walletGen    *wallet.Generator
	queueClient  *queue.Client
	notifier     *NotificationService
	cfg          *config.PaymentConfig
	now          func() time.Time
}

// NewPaymentService 创建支付服务
func NewPaymentService(paymentRepo repository.PaymentRepository, merchantRepo repository.MerchantRepository, walletGen *wallet.Generator, queueClient *queue.Client, notifier *NotificationService, cfg *config.PaymentConfig) *PaymentService {
	return &PaymentService{
		paymentRepo:  paymentRepo,
		merchantRepo: merchantRepo,
		walletGen:    walletGen,
		queueClient:  queueClient,
		notifier:     notifier,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc 替换时钟，仅测试使用
func (s *PaymentService) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreatePaymentInput 创建支付输入
type CreatePaymentInput struct {
	MerchantID     uint
	Currency       string
	AmountMicroStx int64
	USDAmount      decimal.Decimal
	Description    string
	Metadata       map[string]interface{}
	ExpireMinutes  int
}

// CreatePayment 创建支付：生成一次性收款地址并登记超时任务。
func (s *PaymentService) CreatePayment(input CreatePaymentInput) (*models.Payment, error) {
	merchant, err := s.merchantRepo.GetByID(input.MerchantID)
	if err != nil {
		return nil, err
	}
	if merchant == nil {
		return nil, ErrMerchantNotFound
	}
	if merchant.Status != constants.MerchantStatusActive {
		return nil, ErrMerchantDisabled
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = constants.CurrencySTX
	}
	if currency != constants.CurrencySTX {
		return nil, ErrCurrencyUnsupported
	}

	if input.AmountMicroStx < s.minAmount() {
		return nil, ErrPaymentAmountTooSmall
	}

	metadata, err := normalizeMetadata(input.Metadata)
	if err != nil {
		return nil, err
	}

	expireMinutes := input.ExpireMinutes
	if expireMinutes <= 0 {
		expireMinutes = s.defaultExpireMinutes()
	}
	if max := s.maxExpireMinutes(); max > 0 && expireMinutes > max {
		return nil, ErrPaymentInvalid
	}

	keypair, err := s.walletGen.Generate()
	if err != nil {
		return nil, err
	}

	feeRate := merchant.FeeRateBasisPoints
	if feeRate <= 0 {
		feeRate = s.defaultFeeRate()
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(expireMinutes) * time.Minute)
	payment := &models.Payment{
		PaymentID:           newPaymentID(),
		MerchantID:          merchant.ID,
		Currency:            currency,
		UniqueAddress:       keypair.Address,
		EncryptedPrivateKey: keypair.EncryptedPrivateKey,
		ExpectedAmount:      input.AmountMicroStx,
		FeeRateBasisPoints:  feeRate,
		USDAmount:           models.NewMoneyFromDecimal(input.USDAmount),
		Description:         strings.TrimSpace(input.Description),
		Metadata:            metadata,
		Status:              constants.PaymentStatusPending,
		ExpiresAt:           &expiresAt,
	}
	if err := s.paymentRepo.Create(payment); err != nil {
		return nil, err
	}

	if err := s.queueClient.EnqueuePaymentTimeoutExpire(queue.PaymentTimeoutExpirePayload{PaymentID: payment.ID}, expiresAt.Sub(now)); err != nil {
		logger.Warnw("enqueue payment timeout failed", "payment_id", payment.PaymentID, "error", err)
	}

	s.notifier.Dispatch(payment, constants.NotificationEventPaymentCreated)
	logger.Infow("payment created",
		"payment_id", payment.PaymentID,
		"merchant_id", merchant.ID,
		"address", payment.UniqueAddress,
		"amount", payment.ExpectedAmount,
		"expires_at", expiresAt)
	return payment, nil
}

// GetPayment 获取商户名下支付
func (s *PaymentService) GetPayment(merchantID uint, paymentID string) (*models.Payment, error) {
	payment, err := s.paymentRepo.GetByPaymentID(paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.MerchantID != merchantID {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// ListPayments 获取商户支付列表
func (s *PaymentService) ListPayments(filter repository.PaymentListFilter) ([]models.Payment, int64, error) {
	return s.paymentRepo.ListByMerchant(filter)
}

// CancelPayment 取消待支付的支付。
// 仅 pending 可取消；已入账的支付走正常生命周期。
func (s *PaymentService) CancelPayment(merchantID uint, paymentID string) (*models.Payment, error) {
	payment, err := s.GetPayment(merchantID, paymentID)
	if err != nil {
		return nil, err
	}
	ok, err := s.paymentRepo.UpdateStatusIf(payment.ID,
		[]string{constants.PaymentStatusPending},
		constants.PaymentStatusFailed,
		map[string]interface{}{"error_message": "cancelled by merchant"})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPaymentNotCancellable
	}
	updated, err := s.paymentRepo.GetByID(payment.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.Dispatch(updated, constants.NotificationEventPaymentFailed)
	logger.Infow("payment cancelled", "payment_id", payment.PaymentID, "merchant_id", merchantID)
	return updated, nil
}

// ExpireDuePayments 清扫到期支付，返回本轮置为 expired 的数量。
// 与链上事件竞争时以条件更新的胜者为准：入账先到则过期放弃。
func (s *PaymentService) ExpireDuePayments(limit int) (int, error) {
	now := s.now()
	due, err := s.paymentRepo.ListExpirable(now, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range due {
		ok, err := s.paymentRepo.UpdateStatusIf(due[i].ID,
			[]string{constants.PaymentStatusPending},
			constants.PaymentStatusExpired,
			nil)
		if err != nil {
			logger.Errorw("expire payment failed", "payment_id", due[i].PaymentID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		expired++
		payment, err := s.paymentRepo.GetByID(due[i].ID)
		if err != nil || payment == nil {
			continue
		}
		s.notifier.Dispatch(payment, constants.NotificationEventPaymentExpired)
		logger.Infow("payment expired", "payment_id", payment.PaymentID)
	}
	return expired, nil
}

// HandlePaymentTimeout 处理单笔支付的超时任务。
// 任务触发早于实际到期时间时按未到期处理。
func (s *PaymentService) HandlePaymentTimeout(paymentID uint) error {
	payment, err := s.paymentRepo.GetByID(paymentID)
	if err != nil {
		return err
	}
	if payment == nil || payment.Status != constants.PaymentStatusPending {
		return nil
	}
	if payment.ExpiresAt == nil || payment.ExpiresAt.After(s.now()) {
		return nil
	}
	ok, err := s.paymentRepo.UpdateStatusIf(payment.ID,
		[]string{constants.PaymentStatusPending},
		constants.PaymentStatusExpired,
		nil)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	updated, err := s.paymentRepo.GetByID(payment.ID)
	if err != nil || updated == nil {
		return err
	}
	s.notifier.Dispatch(updated, constants.NotificationEventPaymentExpired)
	logger.Infow("payment expired", "payment_id", updated.PaymentID)
	return nil
}

func (s *PaymentService) minAmount() int64 {
	if s.cfg != nil && s.cfg.MinAmountMicroStx > 0 {
		return s.cfg.MinAmountMicroStx
	}
	return 1000
}

func (s *PaymentService) defaultExpireMinutes() int {
	if s.cfg != nil && s.cfg.DefaultExpireMinutes > 0 {
		return s.cfg.DefaultExpireMinutes
	}
	return 15
}

func (s *PaymentService) maxExpireMinutes() int {
	if s.cfg != nil {
		return s.cfg.MaxExpireMinutes
	}
	return 0
}

func (s *PaymentService) defaultFeeRate() int {
	if s.cfg != nil && s.cfg.DefaultFeeRateBasisPoints > 0 {
		return s.cfg.DefaultFeeRateBasisPoints
	}
	return 100
}

func newPaymentID() string {
	return "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

var allowedMetadataKeys = map[string]struct{}{
	constants.MetadataKeyOrderID:       {},
	constants.MetadataKeyCustomerEmail: {},
	constants.MetadataKeyCustomerName:  {},
	constants.MetadataKeyRedirectURL:   {},
}

// normalizeMetadata 校验并规范化元数据：仅白名单键、字符串值、限长。
func normalizeMetadata(input map[string]interface{}) (models.JSON, error) {
	if len(input) == 0 {
		return nil, nil
	}
	out := models.JSON{"version": constants.MetadataVersion}
	for key, value := range input {
		if key == "version" {
			continue
		}
		if _, ok := allowedMetadataKeys[key]; !ok {
			return nil, fmt.Errorf("%w: unknown key %s", ErrMetadataInvalid, key)
		}
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: key %s must be string", ErrMetadataInvalid, key)
		}
		if len(str) > constants.MetadataValueMaxLength {
			return nil, fmt.Errorf("%w: key %s too long", ErrMetadataInvalid, key)
		}
		out[key] = str
	}
	return out, nil
}
