package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"net/url"
	"strings"

	"github.com/stackspay/gateway/internal/constants"
	"github.com/stackspay/gateway/internal/logger"
	"github.com/stackspay/gateway/internal/models"
	"github.com/stackspay/gateway/internal/repository"
)

// MerchantService 商户服务
type MerchantService struct {
	merchantRepo   repository.MerchantRepository
	webhookRepo    repository.WebhookRepository
	network        string
	defaultFeeRate int
}

// NewMerchantService 创建商户服务
func NewMerchantService(merchantRepo repository.MerchantRepository, webhookRepo repository.WebhookRepository, network string, defaultFeeRate int) *MerchantService {
	return &MerchantService{
		merchantRepo:   merchantRepo,
		webhookRepo:    webhookRepo,
		network:        strings.ToLower(strings.TrimSpace(network)),
		defaultFeeRate: defaultFeeRate,
	}
}

// RegisterMerchantInput 商户注册输入
type RegisterMerchantInput struct {
	Name          string
	Email         string
	BusinessName  string
	StacksAddress string
}

// RegisterMerchantResult 商户注册结果。
// APIKey 仅此一次返回明文，落库只存摘要。
type RegisterMerchantResult struct {
	Merchant *models.Merchant
	APIKey   string
}

// RegisterMerchant 注册商户并签发 API Key
func (s *MerchantService) RegisterMerchant(input RegisterMerchantInput) (*RegisterMerchantResult, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	address := strings.TrimSpace(input.StacksAddress)
	if name == "" || email == "" || address == "" {
		return nil, ErrMerchantInvalid
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrMerchantInvalid
	}
	if !isStacksAddress(address, s.network) {
		return nil, ErrMerchantInvalid
	}

	existing, err := s.merchantRepo.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrMerchantEmailExists
	}

	apiKey, err := generateAPIKey(s.network)
	if err != nil {
		return nil, err
	}

	merchant := &models.Merchant{
		Name:               name,
		Email:              email,
		BusinessName:       strings.TrimSpace(input.BusinessName),
		StacksAddress:      address,
		FeeRateBasisPoints: s.defaultFeeRate,
		APIKeyHash:         HashAPIKey(apiKey),
		APIKeyPrefix:       apiKey[:16],
		Status:             constants.MerchantStatusActive,
	}
	if err := s.merchantRepo.Create(merchant); err != nil {
		return nil, err
	}
	logger.Infow("merchant registered", "merchant_id", merchant.ID, "email", email)
	return &RegisterMerchantResult{Merchant: merchant, APIKey: apiKey}, nil
}

// GetMerchant 获取商户
func (s *MerchantService) GetMerchant(id uint) (*models.Merchant, error) {
	merchant, err := s.merchantRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if merchant == nil {
		return nil, ErrMerchantNotFound
	}
	return merchant, nil
}

// AuthenticateAPIKey 根据 API Key 认证商户
func (s *MerchantService) AuthenticateAPIKey(apiKey string) (*models.Merchant, error) {
	apiKey = strings.TrimSpace(apiKey)
	if !strings.HasPrefix(apiKey, constants.APIKeyPrefixLive) && !strings.HasPrefix(apiKey, constants.APIKeyPrefixTest) {
		return nil, ErrAPIKeyInvalid
	}
	merchant, err := s.merchantRepo.GetByAPIKeyHash(HashAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if merchant == nil {
		return nil, ErrAPIKeyInvalid
	}
	if merchant.Status != constants.MerchantStatusActive {
		return nil, ErrMerchantDisabled
	}
	return merchant, nil
}

// CreateWebhookEndpointInput 创建 Webhook 端点输入
type CreateWebhookEndpointInput struct {
	MerchantID uint
	URL        string
}

// CreateWebhookEndpoint 创建 Webhook 端点并生成签名密钥
func (s *MerchantService) CreateWebhookEndpoint(input CreateWebhookEndpointInput) (*models.WebhookEndpoint, error) {
	merchant, err := s.GetMerchant(input.MerchantID)
	if err != nil {
		return nil, err
	}
	endpointURL := strings.TrimSpace(input.URL)
	parsed, err := url.Parse(endpointURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, ErrWebhookURLInvalid
	}

	secret, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	endpoint := &models.WebhookEndpoint{
		MerchantID: merchant.ID,
		URL:        endpointURL,
		Secret:     "whsec_" + secret,
		Active:     true,
	}
	if err := s.webhookRepo.CreateEndpoint(endpoint); err != nil {
		return nil, err
	}
	logger.Infow("webhook endpoint created", "merchant_id", merchant.ID, "endpoint_id", endpoint.ID)
	return endpoint, nil
}

// ListWebhookEndpoints 获取商户 Webhook 端点列表
func (s *MerchantService) ListWebhookEndpoints(merchantID uint) ([]models.WebhookEndpoint, error) {
	return s.webhookRepo.ListEndpoints(merchantID)
}

// DisableWebhookEndpoint 停用 Webhook 端点
func (s *MerchantService) DisableWebhookEndpoint(merchantID, endpointID uint) error {
	endpoint, err := s.webhookRepo.GetEndpointByID(endpointID)
	if err != nil {
		return err
	}
	if endpoint == nil || endpoint.MerchantID != merchantID {
		return ErrWebhookNotFound
	}
	endpoint.Active = false
	return s.webhookRepo.UpdateEndpoint(endpoint)
}

// ListWebhookDeliveries 获取商户投递记录
func (s *MerchantService) ListWebhookDeliveries(filter repository.WebhookDeliveryListFilter) ([]models.WebhookDelivery, int64, error) {
	return s.webhookRepo.ListDeliveries(filter)
}

// HashAPIKey 计算 API Key 的存储摘要
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

func generateAPIKey(network string) (string, error) {
	prefix := constants.APIKeyPrefixTest
	if network == constants.NetworkMainnet {
		prefix = constants.APIKeyPrefixLive
	}
	random, err := randomHex(24)
	if err != nil {
		return "", err
	}
	return prefix + random, nil
}

func randomHex(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isStacksAddress(address, network string) bool {
	switch {
	case network == constants.NetworkMainnet:
		return strings.HasPrefix(address, "SP") || strings.HasPrefix(address, "SM")
	default:
		return strings.HasPrefix(address, "ST") || strings.HasPrefix(address, "SN")
	}
}
