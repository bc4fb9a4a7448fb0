package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stackspay/gateway/internal/constants"
	"github.com/stackspay/gateway/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupPaymentRepositoryTest(t *testing.T) (*GormPaymentRepository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Merchant{},
		&models.Payment{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return NewPaymentRepository(db), db
}

func newTestPayment(suffix string, status string, expiresAt *time.Time) *models.Payment {
	return &models.Payment{
		PaymentID:          "pay_" + suffix,
		MerchantID:         1,
		Currency:           constants.CurrencySTX,
		UniqueAddress:      "ST2TEST" + suffix,
		ExpectedAmount:     5000000,
		FeeRateBasisPoints: 100,
		Status:             status,
		ExpiresAt:          expiresAt,
	}
}

func TestPaymentRepositoryUpdateStatusIfRespectsFromStatuses(t *testing.T) {
	repo, _ := setupPaymentRepositoryTest(t)

	payment := newTestPayment("cas1", constants.PaymentStatusPending, nil)
	if err := repo.Create(payment); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	ok, err := repo.UpdateStatusIf(payment.ID, []string{constants.PaymentStatusPending}, constants.PaymentStatusConfirmed, map[string]interface{}{
		"received_amount": int64(5000000),
		"receive_tx_id":   "0xabc",
	})
	if err != nil {
		t.Fatalf("update status failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected transition pending -> confirmed to succeed")
	}

	ok, err = repo.UpdateStatusIf(payment.ID, []string{constants.PaymentStatusPending}, constants.PaymentStatusExpired, nil)
	if err != nil {
		t.Fatalf("second update failed: %v", err)
	}
	if ok {
		t.Fatalf("expected transition from stale status to fail")
	}

	got, err := repo.GetByID(payment.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if got.Status != constants.PaymentStatusConfirmed {
		t.Fatalf("expected status confirmed, got %s", got.Status)
	}
	if got.ReceivedAmount == nil || *got.ReceivedAmount != 5000000 {
		t.Fatalf("expected received amount persisted, got %v", got.ReceivedAmount)
	}
	if got.ReceiveTxID != "0xabc" {
		t.Fatalf("expected receive tx id persisted, got %s", got.ReceiveTxID)
	}
}

func TestPaymentRepositoryBeginSettlingAllowsSingleWinner(t *testing.T) {
	repo, _ := setupPaymentRepositoryTest(t)
	now := time.Now().UTC()

	payment := newTestPayment("settle1", constants.PaymentStatusConfirmed, nil)
	if err := repo.Create(payment); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	ok, err := repo.BeginSettling(payment.ID, now)
	if err != nil {
		t.Fatalf("begin settling failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected first begin settling to win")
	}

	ok, err = repo.BeginSettling(payment.ID, now)
	if err != nil {
		t.Fatalf("second begin settling failed: %v", err)
	}
	if ok {
		t.Fatalf("expected second begin settling to lose while marker is held")
	}

	got, err := repo.GetByID(payment.ID)
	if err != nil {
		t.Fatalf("get payment failed: %v", err)
	}
	if !got.Settling || got.SettlingAt == nil {
		t.Fatalf("expected settling marker set, got settling=%v settlingAt=%v", got.Settling, got.SettlingAt)
	}
}

func TestPaymentRepositoryBeginSettlingRejectsNonConfirmed(t *testing.T) {
	repo, _ := setupPaymentRepositoryTest(t)

	payment := newTestPayment("settle2", constants.PaymentStatusPending, nil)
	if err := repo.Create(payment); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	ok, err := repo.BeginSettling(payment.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("begin settling failed: %v", err)
	}
	if ok {
		t.Fatalf("expected begin settling on pending payment to fail")
	}
}

func TestPaymentRepositoryListExpirableReturnsOnlyDuePending(t *testing.T) {
	repo, _ := setupPaymentRepositoryTest(t)
	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newTestPayment("exp1", constants.PaymentStatusPending, &past)
	notDue := newTestPayment("exp2", constants.PaymentStatusPending, &future)
	confirmed := newTestPayment("exp3", constants.PaymentStatusConfirmed, &past)
	for _, p := range []*models.Payment{due, notDue, confirmed} {
		if err := repo.Create(p); err != nil {
			t.Fatalf("create payment %s failed: %v", p.PaymentID, err)
		}
	}

	expirable, err := repo.ListExpirable(now, 10)
	if err != nil {
		t.Fatalf("list expirable failed: %v", err)
	}
	if len(expirable) != 1 {
		t.Fatalf("expected 1 expirable payment, got %d", len(expirable))
	}
	if expirable[0].PaymentID != due.PaymentID {
		t.Fatalf("expected %s, got %s", due.PaymentID, expirable[0].PaymentID)
	}
}

func TestPaymentRepositoryListStaleSettling(t *testing.T) {
	repo, db := setupPaymentRepositoryTest(t)
	now := time.Now().UTC().Truncate(time.Second)
	stale := now.Add(-20 * time.Minute)
	fresh := now.Add(-time.Minute)

	stalePayment := newTestPayment("stale1", constants.PaymentStatusConfirmed, nil)
	freshPayment := newTestPayment("stale2", constants.PaymentStatusConfirmed, nil)
	for _, p := range []*models.Payment{stalePayment, freshPayment} {
		if err := repo.Create(p); err != nil {
			t.Fatalf("create payment %s failed: %v", p.PaymentID, err)
		}
	}
	if err := db.Model(&models.Payment{}).Where("id = ?", stalePayment.ID).
		Updates(map[string]interface{}{"settling": true, "settling_at": stale}).Error; err != nil {
		t.Fatalf("mark stale settling failed: %v", err)
	}
	if err := db.Model(&models.Payment{}).Where("id = ?", freshPayment.ID).
		Updates(map[string]interface{}{"settling": true, "settling_at": fresh}).Error; err != nil {
		t.Fatalf("mark fresh settling failed: %v", err)
	}

	got, err := repo.ListStaleSettling(now.Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("list stale settling failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 stale payment, got %d", len(got))
	}
	if got[0].PaymentID != stalePayment.PaymentID {
		t.Fatalf("expected %s, got %s", stalePayment.PaymentID, got[0].PaymentID)
	}
}

func TestPaymentRepositoryUniqueAddressConstraint(t *testing.T) {
	repo, _ := setupPaymentRepositoryTest(t)

	first := newTestPayment("dup1", constants.PaymentStatusPending, nil)
	if err := repo.Create(first); err != nil {
		t.Fatalf("create first payment failed: %v", err)
	}

	second := newTestPayment("dup2", constants.PaymentStatusPending, nil)
	second.UniqueAddress = first.UniqueAddress
	if err := repo.Create(second); err == nil {
		t.Fatalf("expected duplicate unique address to be rejected")
	}
}

func TestPaymentRepositoryGetByUniqueAddressAndReceiveTx(t *testing.T) {
	repo, _ := setupPaymentRepositoryTest(t)

	payment := newTestPayment("lookup1", constants.PaymentStatusPending, nil)
	payment.ReceiveTxID = "0xfeed"
	if err := repo.Create(payment); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	byAddr, err := repo.GetByUniqueAddress(payment.UniqueAddress)
	if err != nil {
		t.Fatalf("get by unique address failed: %v", err)
	}
	if byAddr == nil || byAddr.PaymentID != payment.PaymentID {
		t.Fatalf("expected payment by address, got %v", byAddr)
	}

	byTx, err := repo.GetByReceiveTxID("0xfeed")
	if err != nil {
		t.Fatalf("get by receive tx failed: %v", err)
	}
	if byTx == nil || byTx.PaymentID != payment.PaymentID {
		t.Fatalf("expected payment by receive tx, got %v", byTx)
	}

	missing, err := repo.GetByUniqueAddress("ST2UNKNOWN")
	if err != nil {
		t.Fatalf("get missing address failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown address, got %v", missing)
	}
}
