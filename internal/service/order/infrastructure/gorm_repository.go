package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"orderflow/internal/service/order/domain"
)

// 乐观锁冲突时在本地重试的次数
const maxCASAttempts = 3

var errVersionConflict = errors.New("order version conflict")

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormOrderRepository 创建一个新的 GORM 仓储实例
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db, now: time.Now}
}

// CreateWithItems 在一个事务内写入订单和订单行，任何一步失败都整体回滚
func (r *GormOrderRepository) CreateWithItems(ctx context.Context, order *domain.Order) error {
	model := FromDomainOrder(order)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(model).Error; err != nil {
			return errors.Wrap(err, "insert order")
		}
		if len(model.Items) == 0 {
			return nil
		}
		if err := tx.Create(&model.Items).Error; err != nil {
			return errors.Wrap(err, "insert order items")
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "create order %s", order.ID)
	}
	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID 预加载订单行和收据
func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	model, err := r.load(r.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return ToDomainOrder(model), nil
}

func (r *GormOrderRepository) load(tx *gorm.DB, id string) (*OrderModel, error) {
	var model OrderModel
	err := tx.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Receipt").
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.NotFoundError{OrderID: id}
		}
		return nil, errors.Wrapf(err, "load order %s", id)
	}
	return &model, nil
}

// FindPage 按创建时间倒序分页，不加载订单行
func (r *GormOrderRepository) FindPage(ctx context.Context, q domain.PageQuery) ([]*domain.Order, int64, error) {
	base := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&OrderModel{})
		if q.Status != nil {
			db = db.Where("status = ?", string(*q.Status))
		}
		return db
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	var models []OrderModel
	err := base().
		Order("created_at DESC").
		Order("id ASC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = ToDomainOrder(&models[i])
	}
	return orders, total, nil
}

// UpdateStatus 在事务内完成读取-校验-写入；目标状态与当前相同时不写库
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id string, to domain.Status) (*domain.Order, bool, error) {
	return r.mutate(ctx, id, func(o *domain.Order) (bool, error) {
		return o.ChangeStatus(to, r.now())
	})
}

// RecordPayment 原子地写入支付信息和收据；同一支付引用的重复确认不写库
func (r *GormOrderRepository) RecordPayment(ctx context.Context, id string, c domain.PaymentConfirmation) (*domain.Order, bool, error) {
	return r.mutate(ctx, id, func(o *domain.Order) (bool, error) {
		return o.MarkPaid(c, r.now())
	})
}

// mutate 在事务内加载订单、应用领域变更，并以 version 做 compare-and-set。
// 版本冲突说明有并发写入，重新加载后最多重试 maxCASAttempts 次。
func (r *GormOrderRepository) mutate(ctx context.Context, id string, apply func(*domain.Order) (bool, error)) (*domain.Order, bool, error) {
	for attempt := 1; ; attempt++ {
		var (
			result  *domain.Order
			changed bool
		)
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			model, err := r.load(tx, id)
			if err != nil {
				return err
			}
			order := ToDomainOrder(model)
			hadReceipt := order.Receipt != nil

			if changed, err = apply(order); err != nil {
				return err
			}
			result = order
			if !changed {
				return nil
			}
			if err := r.compareAndSwap(tx, model.Version, order); err != nil {
				return err
			}
			if order.Receipt != nil && !hadReceipt {
				receipt := OrderReceiptModel{
					OrderID:    order.ID,
					ReceiptURL: order.Receipt.ReceiptURL,
					CreatedAt:  order.Receipt.CreatedAt,
				}
				if err := tx.Create(&receipt).Error; err != nil {
					return errors.Wrap(err, "insert receipt")
				}
			}
			return nil
		})
		if errors.Is(err, errVersionConflict) {
			if attempt < maxCASAttempts {
				continue
			}
			return nil, false, domain.ErrConcurrentUpdate
		}
		if err != nil {
			return nil, false, err
		}
		return result, changed, nil
	}
}

func (r *GormOrderRepository) compareAndSwap(tx *gorm.DB, expected int, order *domain.Order) error {
	var chargeID *string
	if order.StripeChargeID != "" {
		ref := order.StripeChargeID
		chargeID = &ref
	}
	res := tx.Model(&OrderModel{}).
		Where("id = ? AND version = ?", order.ID, expected).
		Updates(map[string]interface{}{
			"status":           string(order.Status),
			"paid":             order.Paid,
			"paid_at":          order.PaidAt,
			"stripe_charge_id": chargeID,
			"version":          expected + 1,
			"updated_at":       order.UpdatedAt,
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update order %s", order.ID)
	}
	if res.RowsAffected == 0 {
		return errVersionConflict
	}
	order.Version = expected + 1
	return nil
}
